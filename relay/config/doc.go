// Package config provides configuration loading for the location relay.
//
// Configuration comes from three layers, lowest precedence first:
//   - Built-in defaults (see Default)
//   - An optional YAML file passed to Load
//   - Environment variables prefixed with MAPNUDGE_, where dots in the key
//     become underscores (server.port → MAPNUDGE_SERVER_PORT)
//
// A few unprefixed variables are honored as well: PORT for server.port and
// NGROK_AUTHTOKEN / NGROK_DOMAIN / NGROK_ENABLED for the tunnel.
//
// Usage:
//
//	cfg, err := config.Load("relay.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	addr := cfg.Server.Addr()
//
// Validation:
//
// Load and LoadFromViper always validate. Every violation is reported in a
// single error so a bad file can be fixed in one pass.
package config
