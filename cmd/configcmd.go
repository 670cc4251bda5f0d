package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/repowiki/console/internal/config"
)

// runConfigInit implements "repowiki config init": create the default config
// file if it does not exist. Existing files are never overwritten.
func runConfigInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	fs.SetOutput(stderr)

	path := fs.String("path", "", "Where to write the config file (default: ~/.repowiki/config.toml)")
	endpoint := fs.String("endpoint", config.DefaultEndpoint, "Backend WebSocket URL to write")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: repowiki config init [options]\n\nCreate the default config file. Existing files are never overwritten.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	target := *path
	if target == "" {
		var err error
		target, err = config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if _, err := os.Stat(target); err == nil {
		fmt.Fprintf(stdout, "Config already exists: %s\n", target)
		return 0
	}

	if err := config.WriteDefault(target, *endpoint); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Created config: %s\n", target)
	fmt.Fprintf(stdout, "Endpoint: %s\n", *endpoint)
	return 0
}
