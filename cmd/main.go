package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `repowiki - console client for a repowiki backend

Usage:
  repowiki <command> [options]

Commands:
  chat                Ask a question about an indexed repository
  generate            Generate a wiki for a repository and follow the run
  watch               Follow live task progress from the backend
  discover            Find repowiki backends on the local network
  doctor              Diagnose configuration and backend connectivity
  config init         Create the default config file
  journal tasks       Show recent task outcomes from the session journal
  journal connections Show recent connection events from the session journal

Run 'repowiki <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "chat":
		return runChat(args[2:], stdout, stderr)
	case "generate":
		return runGenerate(args[2:], stdout, stderr)
	case "watch":
		return runWatch(args[2:], stdout, stderr)
	case "discover":
		return runDiscover(args[2:], stdout, stderr)
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "config":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: repowiki config <init>")
			return 1
		}
		switch args[2] {
		case "init":
			return runConfigInit(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown config command: %s\n", args[2])
			return 1
		}
	case "journal":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: repowiki journal <tasks|connections>")
			return 1
		}
		switch args[2] {
		case "tasks":
			return runJournalTasks(args[3:], stdout, stderr)
		case "connections":
			return runJournalConnections(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown journal command: %s\n", args[2])
			return 1
		}
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "repowiki %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
