package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/repowiki/console/internal/journal"
	"github.com/repowiki/console/internal/progress"
	"github.com/repowiki/console/internal/socket"
)

// watchSignals is a seam so tests can drive the stop channel directly.
var watchSignals = func() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// runWatch implements "repowiki watch": connect and mirror every tracked
// task to the terminal until interrupted. Task outcomes are journaled to
// SQLite when a journal path is configured, and Prometheus metrics are
// served when a metrics address is configured.
func runWatch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cf := registerClientFlags(fs)
	repo := fs.String("repo", "", "Only show tasks for this repository id")
	journalPath := fs.String("journal", "", "Session journal SQLite path (overrides config)")
	metricsAddr := fs.String("metrics-addr", "", "Listen address for Prometheus /metrics (overrides config)")
	jsonOut := fs.Bool("json", false, "Emit one JSON record per line instead of human output")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: repowiki watch [options]

Connect to the backend and follow live task progress. Press Ctrl+C to stop.

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

	// Session journal: feed terminal task outcomes through the buffered
	// writer so a slow disk never stalls progress notification.
	jpath := cfg.JournalPath
	if *journalPath != "" {
		jpath = *journalPath
	}
	var j *journal.Journal
	if jpath != "" {
		j, err = journal.Open(jpath, log)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer j.Close()
		jw := journal.NewWriter(j, log)
		defer jw.Close()
		unsubJournal := store.Subscribe(jw.Subscriber())
		defer unsubJournal()
		fmt.Fprintf(stdout, "Journal: %s\n", jpath)
	}

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

	// Connection transitions are rendered from the main loop so handler
	// goroutines never write to stdout themselves.
	notes := make(chan string, 8)
	note := func(line string) {
		select {
		case notes <- line:
		case <-done:
		}
	}
	gaveUp := make(chan error, 1)
	recordConn := func(event, detail string) {
		if j == nil {
			return
		}
		if err := j.RecordConnection(event, client.Endpoint(), detail); err != nil {
			log.Warn("failed to journal connection event", zap.Error(err))
		}
	}
	client.SetHandlers(socket.Handlers{
		OnConnect: func() {
			recordConn(journal.ConnConnected, "")
			note("Connected to " + client.Endpoint())
		},
		OnDisconnect: func(err error) {
			if err == nil {
				recordConn(journal.ConnDisconnected, "")
				note("Disconnected")
				return
			}
			recordConn(journal.ConnDisconnected, err.Error())
			note("Disconnected: " + err.Error())
		},
		OnError: func(err error) {
			recordConn(journal.ConnError, err.Error())
			// StatusError with no connection means the reconnect
			// schedule ran out; the watch cannot recover on its own.
			if client.State().Status == socket.StatusError {
				select {
				case gaveUp <- err:
				default:
				}
			}
		},
	})

	maddr := cfg.MetricsAddr
	if *metricsAddr != "" {
		maddr = *metricsAddr
	}
	if maddr != "" {
		msrv := &http.Server{Addr: maddr, Handler: metricsMux()}
		go func() {
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
		defer msrv.Close()
		fmt.Fprintf(stdout, "Metrics: http://%s/metrics\n", maddr)
	}

	if err := connect(client, cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintln(stderr, "Run 'repowiki doctor' to diagnose connectivity.")
		return 1
	}

	sigCh, stopSignals := watchSignals()
	defer stopSignals()

	fmt.Fprintln(stdout, "Watching task progress. Press Ctrl+C to stop.")

	enc := json.NewEncoder(stdout)
	type rendered struct {
		status progress.Status
		pct    int
	}
	last := make(map[string]rendered)

	for {
		select {
		case rec := <-updates:
			if *repo != "" && rec.RepositoryID != *repo {
				continue
			}
			if *jsonOut {
				if err := enc.Encode(rec); err != nil {
					log.Warn("failed to encode record", zap.Error(err))
				}
				continue
			}
			pct := int(rec.Progress * 100)
			if r, ok := last[rec.ID]; ok && r.status == rec.Status && r.pct == pct {
				continue
			}
			last[rec.ID] = rendered{rec.Status, pct}
			renderRecord(stdout, rec)
			if rec.Status.Terminal() {
				delete(last, rec.ID)
			}
		case line := <-notes:
			if *jsonOut {
				fmt.Fprintln(stderr, line)
			} else {
				fmt.Fprintln(stdout, line)
			}
		case err := <-gaveUp:
			fmt.Fprintf(stderr, "Error: connection lost and reconnect attempts exhausted: %v\n", err)
			return 1
		case sig := <-sigCh:
			fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)
			return 0
		}
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
