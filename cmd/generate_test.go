package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/repowiki/console/internal/protocol"
)

func TestGenerateFollowsRunToCompletion(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	b := newTestBackend(t)

	go func() {
		conn := b.waitConn()
		if conn == nil {
			return
		}
		msg := b.waitInbound()
		if msg == nil {
			return
		}
		req, ok := msg.(*protocol.WikiGenerate)
		if !ok {
			b.t.Errorf("backend received %T, want *protocol.WikiGenerate", msg)
			return
		}
		if req.RepositoryID != "repo-1" {
			b.t.Errorf("request repository = %q, want repo-1", req.RepositoryID)
		}
		if req.Config.Language != "en" || !req.Config.Comprehensive {
			b.t.Errorf("request config = %+v", req.Config)
		}
		if len(req.Config.ExcludedDirs) != 2 {
			b.t.Errorf("excluded dirs = %v, want 2 entries", req.Config.ExcludedDirs)
		}
		b.push(conn, &protocol.WikiProgress{
			Header:         serverHeader(protocol.TypeWikiProgress, "wp-1"),
			RepositoryID:   "repo-1",
			Progress:       0.25,
			CurrentStep:    "analyzing structure",
			TotalSteps:     4,
			CompletedSteps: 1,
		})
		b.push(conn, &protocol.WikiComplete{
			Header:        serverHeader(protocol.TypeWikiComplete, "wc-1"),
			RepositoryID:  "repo-1",
			WikiID:        "wiki-repo-1",
			PagesCount:    12,
			SectionsCount: 4,
		})
	}()

	var stdout, stderr bytes.Buffer
	code := runGenerate([]string{
		"--endpoint", b.url(), "--log-level", "error", "--wait", "5s",
		"--repo", "repo-1", "--language", "en", "--comprehensive",
		"--excluded-dirs", "vendor, node_modules",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr: %s", code, stderr.String())
	}

	out := stdout.String()
	if !strings.Contains(out, "Requested wiki generation for repo-1") {
		t.Fatalf("expected request notice, got %q", out)
	}
	if !strings.Contains(out, "analyzing structure") {
		t.Fatalf("expected progress render, got %q", out)
	}
	if !strings.Contains(out, "completed") {
		t.Fatalf("expected terminal render, got %q", out)
	}
	if !strings.Contains(out, "wiki wiki-repo-1: 12 pages, 4 sections") {
		t.Fatalf("expected wiki result summary, got %q", out)
	}
}

func TestGenerateReportsFailure(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	b := newTestBackend(t)

	go func() {
		conn := b.waitConn()
		if conn == nil {
			return
		}
		if b.waitInbound() == nil {
			return
		}
		b.push(conn, &protocol.WikiProgress{
			Header:         serverHeader(protocol.TypeWikiProgress, "wp-1"),
			RepositoryID:   "repo-1",
			Progress:       0.5,
			CurrentStep:    "drafting pages",
			TotalSteps:     4,
			CompletedSteps: 2,
		})
		b.push(conn, &protocol.WikiError{
			Header:       serverHeader(protocol.TypeWikiError, "we-1"),
			RepositoryID: "repo-1",
			Error:        "generation aborted",
		})
	}()

	var stdout, stderr bytes.Buffer
	code := runGenerate([]string{
		"--endpoint", b.url(), "--log-level", "error", "--wait", "5s",
		"--repo", "repo-1",
	}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1 on failed run, got %d", code)
	}
	out := stdout.String()
	if !strings.Contains(out, "error") || !strings.Contains(out, "generation aborted") {
		t.Fatalf("expected failure render, got %q", out)
	}
}

func TestGenerateIgnoresOtherRepositories(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	b := newTestBackend(t)

	go func() {
		conn := b.waitConn()
		if conn == nil {
			return
		}
		if b.waitInbound() == nil {
			return
		}
		// A finished run for another repository must not end the watch on
		// repo-1.
		b.push(conn, &protocol.WikiComplete{
			Header:       serverHeader(protocol.TypeWikiComplete, "other-1"),
			RepositoryID: "repo-other",
			WikiID:       "wiki-other",
		})
		b.push(conn, &protocol.WikiComplete{
			Header:       serverHeader(protocol.TypeWikiComplete, "mine-1"),
			RepositoryID: "repo-1",
			WikiID:       "wiki-mine",
		})
	}()

	var stdout, stderr bytes.Buffer
	code := runGenerate([]string{
		"--endpoint", b.url(), "--log-level", "error", "--wait", "5s",
		"--repo", "repo-1",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d\nstderr: %s", code, stderr.String())
	}
	out := stdout.String()
	if strings.Contains(out, "wiki-other") {
		t.Fatalf("record for another repository leaked into output: %q", out)
	}
	if !strings.Contains(out, "wiki-mine") {
		t.Fatalf("expected repo-1 completion, got %q", out)
	}
}

func TestGenerateWaitDeadline(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	b := newTestBackend(t)

	go func() {
		if b.waitConn() == nil {
			return
		}
		b.waitInbound()
	}()

	var stdout, stderr bytes.Buffer
	code := runGenerate([]string{
		"--endpoint", b.url(), "--log-level", "error", "--wait", "100ms",
		"--repo", "repo-1",
	}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1 on deadline, got %d", code)
	}
	if !strings.Contains(stderr.String(), "did not finish within") {
		t.Fatalf("expected deadline error, got %q", stderr.String())
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"vendor", []string{"vendor"}},
		{"vendor, node_modules", []string{"vendor", "node_modules"}},
		{" a ,, b ", []string{"a", "b"}},
	}
	for _, tc := range cases {
		got := splitList(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("splitList(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("splitList(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}
