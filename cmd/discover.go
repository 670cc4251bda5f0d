package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/repowiki/console/internal/discovery"
)

// discoverBackends is a seam so tests can inject results without a real
// mDNS browse.
var discoverBackends = discovery.Discover

// runDiscover implements "repowiki discover": browse the local network for
// advertised backends and print what was found.
func runDiscover(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)

	timeout := fs.Duration("timeout", 3*time.Second, "How long to browse for backends")
	jsonOut := fs.Bool("json", false, "Print results as JSON")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: repowiki discover [options]

Browse the local network for repowiki backends advertised over mDNS
(%s). Use a discovered endpoint with --endpoint or write it to
the config file with 'repowiki config init'.

Options:
`, discovery.ServiceType)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backends, err := discoverBackends(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		type discovered struct {
			discovery.Backend
			Endpoint string `json:"endpoint"`
		}
		out := make([]discovered, len(backends))
		for i, b := range backends {
			out[i] = discovered{Backend: b, Endpoint: b.Endpoint()}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if len(backends) == 0 {
		fmt.Fprintln(stdout, "No backends found.")
		return 0
	}

	renderBackends(stdout, backends)
	return 0
}

func renderBackends(w io.Writer, backends []discovery.Backend) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENDPOINT\tVERSION\tFINGERPRINT")
	fmt.Fprintln(tw, "----\t--------\t-------\t-----------")
	for _, b := range backends {
		fp := b.Fingerprint
		switch {
		case fp == "":
			fp = "-"
		case len(fp) > 23:
			fp = fp[:23] + "..."
		}
		version := b.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Name, b.Endpoint(), version, fp)
	}
	tw.Flush()
}
