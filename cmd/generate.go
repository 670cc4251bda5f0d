package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/repowiki/console/internal/progress"
	"github.com/repowiki/console/internal/protocol"
)

// runGenerate implements "repowiki generate": request a wiki for a
// repository and follow the run's progress until it reaches a terminal
// state. The exit code reflects the outcome: 0 for a completed wiki,
// 1 for error, cancellation, interrupt, or timeout.
func runGenerate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cf := registerClientFlags(fs)
	repo := fs.String("repo", "", "Repository id to generate a wiki for (required)")
	language := fs.String("language", "", "Output language code, e.g. en")
	comprehensive := fs.Bool("comprehensive", false, "Generate the detailed multi-section wiki")
	provider := fs.String("provider", "", "Model provider on the backend")
	model := fs.String("model", "", "Model within the provider")
	excludedDirs := fs.String("excluded-dirs", "", "Comma-separated directories to skip")
	excludedFiles := fs.String("excluded-files", "", "Comma-separated file patterns to skip")
	wait := fs.Duration("wait", 30*time.Minute, "How long to wait for the run to finish")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: repowiki generate --repo <id> [options]

Request wiki generation and follow the run until it finishes.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *repo == "" {
		fs.Usage()
		return 1
	}

	cfg, err := cf.loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer log.Sync()

	client, err := newClient(cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer client.Disconnect()

	store := progress.NewStore(log)
	tracker := progress.NewTracker(store, log)
	tracker.Bind(client)

	done := make(chan struct{})
	defer close(done)

	updates := make(chan progress.Record)
	unsubscribe := store.Subscribe(func(rec progress.Record) {
		select {
		case updates <- rec:
		case <-done:
		}
	})
	defer unsubscribe()

	if err := connect(client, cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	client.SendWikiGenerate(*repo, protocol.WikiConfig{
		Language:      *language,
		Comprehensive: *comprehensive,
		Provider:      *provider,
		Model:         *model,
		ExcludedDirs:  splitList(*excludedDirs),
		ExcludedFiles: splitList(*excludedFiles),
	})
	fmt.Fprintf(stdout, "Requested wiki generation for %s\n", *repo)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	deadline := time.NewTimer(*wait)
	defer deadline.Stop()

	// Only re-render when something visible changed; progress frames can
	// arrive far faster than a terminal is worth updating.
	lastPct := -1
	var lastStatus progress.Status

	for {
		select {
		case rec := <-updates:
			if rec.Type != progress.TypeWikiGeneration || rec.RepositoryID != *repo {
				continue
			}
			pct := int(rec.Progress * 100)
			if rec.Status != lastStatus || pct != lastPct {
				renderRecord(stdout, rec)
				lastStatus, lastPct = rec.Status, pct
			}
			switch rec.Status {
			case progress.StatusCompleted:
				return 0
			case progress.StatusError, progress.StatusCancelled:
				return 1
			}
		case sig := <-sigCh:
			fmt.Fprintf(stdout, "\nReceived signal %v; the run continues on the backend.\n", sig)
			return 1
		case <-deadline.C:
			fmt.Fprintf(stderr, "Error: wiki generation did not finish within %s\n", *wait)
			return 1
		}
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
