package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/mapnudge-relay/relay/config"
)

// ValidationResult captures the outcome of validating a single file.
type ValidationResult struct {
	File   string
	Valid  bool
	Config config.Config
	Err    error
}

// validateConfigFile loads path through the same layers the server uses:
// defaults, the file, then the environment.
func validateConfigFile(path string) ValidationResult {
	cfg, err := config.Load(path)
	if err != nil {
		return ValidationResult{File: path, Err: err}
	}
	return ValidationResult{File: path, Valid: true, Config: cfg}
}

// checkConfigAction validates every file given, or the defaults plus
// environment when none is.
func checkConfigAction(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		files = []string{""}
	}

	if !reportConfigs(cmd.Root().Writer, files) {
		return cli.Exit("Some configurations have errors", 1)
	}
	return nil
}

// reportConfigs prints one block per file and reports whether all passed.
func reportConfigs(w io.Writer, files []string) bool {
	allValid := true
	for _, file := range files {
		result := validateConfigFile(file)

		name := result.File
		if name == "" {
			name = "(defaults + environment)"
		}
		fmt.Fprintf(w, "\n%s %s\n", strings.Repeat("=", 20), name)

		if result.Valid {
			fmt.Fprintln(w, "✅ VALID")
			fmt.Fprintf(w, "  listen: %s\n", result.Config.Server.Addr())
			fmt.Fprintf(w, "  logging: %s/%s\n", result.Config.Logging.Level, result.Config.Logging.Format)
			fmt.Fprintf(w, "  ngrok: %t\n", result.Config.Ngrok.Enabled)
			continue
		}

		allValid = false
		fmt.Fprintln(w, "❌ INVALID")
		fmt.Fprintf(w, "  ❌ %v\n", result.Err)
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Fprintln(w, "✅ All configurations are valid!")
	} else {
		fmt.Fprintln(w, "❌ Some configurations have errors")
	}
	return allValid
}
