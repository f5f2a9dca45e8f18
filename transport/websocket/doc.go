// Package websocket provides the WebSocket transport for the location relay.
//
// The websocket package implements:
//   - Connection upgrade and per-connection ids
//   - Read and write pumps with ping/pong keepalive
//   - Bounded per-connection send queues
//   - A single event loop that feeds a Dispatcher
//
// Architecture:
//
// A central Hub owns every connection. Each connection has a read goroutine
// and a write goroutine; neither touches shared state. Connects, inbound
// frames and disconnects are funneled into Hub.Run, which hands them to the
// Dispatcher one at a time. Anything the Dispatcher sends back goes through
// Hub.Send, which only enqueues.
//
// Slow Clients:
//
// When a connection's send queue is full the frame is dropped and the
// connection is evicted once the current event has been handled. Eviction
// runs the normal disconnect path, so the rest of its room sees user-left.
//
// Usage:
//
//	hub := websocket.NewHub(cfg.WebSocket, logger)
//	handler := protocol.NewHandler(registry, hub, logger)
//	go hub.Run(ctx, handler)
//
//	router.HandleFunc("/ws", hub.ServeWS)
//
// Frames:
//
// Every queued frame is written as its own text message. The hub does not
// look inside frames.
package websocket
