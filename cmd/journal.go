package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/repowiki/console/internal/config"
	"github.com/repowiki/console/internal/journal"
)

// journalFlags holds the flags shared by the journal subcommands.
type journalFlags struct {
	config  string
	journal string
	limit   int
	json    bool
}

func registerJournalFlags(fs *flag.FlagSet) *journalFlags {
	jf := &journalFlags{}
	fs.StringVar(&jf.config, "config", "", "Path to config file (default: ~/.repowiki/config.toml)")
	fs.StringVar(&jf.journal, "journal", "", "Session journal SQLite path (overrides config)")
	fs.IntVar(&jf.limit, "limit", 20, "Maximum number of events to show (0 shows all)")
	fs.BoolVar(&jf.json, "json", false, "Print events as JSON")
	return jf
}

// resolvePath picks the journal to read: the flag, then the config file's
// journal_path, then the default location.
func (jf *journalFlags) resolvePath() (string, error) {
	if jf.journal != "" {
		return jf.journal, nil
	}
	cfg, err := config.Load(jf.config)
	if err != nil {
		return "", err
	}
	if cfg.JournalPath != "" {
		return cfg.JournalPath, nil
	}
	return config.DefaultJournalPath()
}

// openJournal resolves and opens the journal for reading. A missing journal
// file is not an error; it reports ok=false and the caller prints a notice.
func (jf *journalFlags) openJournal(stderr io.Writer) (*journal.Journal, string, bool) {
	path, err := jf.resolvePath()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, "", false
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, path, true
	}
	j, err := journal.Open(path, nil)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, "", false
	}
	return j, path, true
}

// runJournalTasks implements "repowiki journal tasks": list recorded task
// outcomes, newest first.
func runJournalTasks(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("journal tasks", flag.ContinueOnError)
	fs.SetOutput(stderr)

	jf := registerJournalFlags(fs)
	repo := fs.String("repo", "", "Only show tasks for this repository id")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: repowiki journal tasks [options]\n\nShow recorded task outcomes, newest first.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	j, path, ok := jf.openJournal(stderr)
	if !ok {
		return 1
	}
	if j == nil {
		fmt.Fprintf(stdout, "No journal found at %s.\n", path)
		return 0
	}
	defer j.Close()

	var events []journal.TaskEvent
	var err error
	if *repo != "" {
		events, err = j.TaskEventsForRepository(*repo, jf.limit)
	} else {
		events, err = j.RecentTaskEvents(jf.limit)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jf.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(events); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if len(events) == 0 {
		fmt.Fprintln(stdout, "No task events recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tTYPE\tREPOSITORY\tFINISHED\tDURATION\tERROR")
	fmt.Fprintln(tw, "------\t----\t----------\t--------\t--------\t-----")
	for _, ev := range events {
		errText := ev.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Status, ev.Type, ev.RepositoryID,
			humanize.Time(ev.FinishedAt),
			roundDuration(ev.FinishedAt.Sub(ev.StartedAt)),
			errText,
		)
	}
	tw.Flush()
	return 0
}

// runJournalConnections implements "repowiki journal connections": list
// recorded connectivity transitions, newest first.
func runJournalConnections(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("journal connections", flag.ContinueOnError)
	fs.SetOutput(stderr)

	jf := registerJournalFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: repowiki journal connections [options]\n\nShow recorded connection events, newest first.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	j, path, ok := jf.openJournal(stderr)
	if !ok {
		return 1
	}
	if j == nil {
		fmt.Fprintf(stdout, "No journal found at %s.\n", path)
		return 0
	}
	defer j.Close()

	events, err := j.RecentConnectionEvents(jf.limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jf.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(events); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if len(events) == 0 {
		fmt.Fprintln(stdout, "No connection events recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tENDPOINT\tWHEN\tDETAIL")
	fmt.Fprintln(tw, "-----\t--------\t----\t------")
	for _, ev := range events {
		detail := ev.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			ev.Event, ev.Endpoint, humanize.Time(ev.At), detail)
	}
	tw.Flush()
	return 0
}

// roundDuration trims a duration for display: sub-second durations keep
// millisecond precision, longer ones round to whole seconds.
func roundDuration(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Second)
}
