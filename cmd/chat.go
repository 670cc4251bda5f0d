package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/repowiki/console/internal/protocol"
	"github.com/repowiki/console/internal/socket"
)

// runChat implements "repowiki chat": send one question and stream the
// answer to stdout until the backend marks it complete.
func runChat(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cf := registerClientFlags(fs)
	repo := fs.String("repo", "", "Repository id to ask about (required)")
	chatContext := fs.String("context", "", "Extra context for the question, such as a file path")
	wait := fs.Duration("wait", 2*time.Minute, "How long to wait for the complete answer")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: repowiki chat --repo <id> [options] <question>

Ask a question about an indexed repository. Streamed answers are printed
chunk by chunk as they arrive.

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

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *repo == "" || question == "" {
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

	// done releases handlers blocked on the channels below once this
	// command stops listening, so the read pump is never wedged.
	done := make(chan struct{})
	defer close(done)

	responses := make(chan *protocol.ChatResponse)
	chatErrs := make(chan *protocol.ChatError, 1)
	client.SetHandlers(socket.Handlers{
		OnChatResponse: func(msg *protocol.ChatResponse) {
			select {
			case responses <- msg:
			case <-done:
			}
		},
		OnChatError: func(msg *protocol.ChatError) {
			select {
			case chatErrs <- msg:
			case <-done:
			}
		},
	})

	if err := connect(client, cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	client.SendChat(*repo, question, *chatContext)

	deadline := time.NewTimer(*wait)
	defer deadline.Stop()

	var sources []string
	for {
		select {
		case msg := <-responses:
			fmt.Fprint(stdout, msg.Answer)
			if len(msg.Sources) > 0 {
				sources = msg.Sources
			}
			if !msg.IsStreaming || msg.IsComplete {
				fmt.Fprintln(stdout)
				printSources(stdout, sources)
				return 0
			}
		case msg := <-chatErrs:
			fmt.Fprintf(stderr, "Error: %s\n", msg.Error)
			return 1
		case <-deadline.C:
			fmt.Fprintf(stderr, "Error: no complete answer within %s\n", *wait)
			return 1
		}
	}
}

func printSources(w io.Writer, sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, color.New(color.Faint).Sprint("Sources:"))
	for _, src := range sources {
		fmt.Fprintf(w, "  - %s\n", src)
	}
}
