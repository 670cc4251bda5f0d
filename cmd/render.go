package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/repowiki/console/internal/progress"
)

// statusColors maps a record status to its terminal color. Rendering falls
// back to plain text when stdout is not a terminal (color.NoColor).
var statusColors = map[progress.Status]*color.Color{
	progress.StatusConnecting: color.New(color.FgCyan),
	progress.StatusRunning:    color.New(color.FgYellow),
	progress.StatusCompleted:  color.New(color.FgGreen),
	progress.StatusError:      color.New(color.FgRed),
	progress.StatusCancelled:  color.New(color.FgMagenta),
}

func statusLabel(st progress.Status) string {
	if c, ok := statusColors[st]; ok {
		return c.Sprint(string(st))
	}
	return string(st)
}

// progressBar renders a fixed-width bar for a 0.0-1.0 fraction.
func progressBar(p float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(p * float64(width))
	switch {
	case filled >= width:
		return "[" + strings.Repeat("=", width) + "]"
	case filled <= 0:
		return "[" + strings.Repeat(" ", width) + "]"
	default:
		return "[" + strings.Repeat("=", filled-1) + ">" + strings.Repeat(" ", width-filled) + "]"
	}
}

// detailSummary renders the type-specific portion of a record in one line.
// Live and terminal records emphasize different fields: a finished wiki run
// shows its result identifiers, a live one shows the current step.
func detailSummary(rec progress.Record) string {
	switch d := rec.Detail.(type) {
	case progress.IndexingDetail:
		s := fmt.Sprintf("%s/%s files",
			humanize.Comma(int64(d.FilesProcessed)), humanize.Comma(int64(d.TotalFiles)))
		if d.ProcessingRate > 0 {
			s += fmt.Sprintf(" at %s files/s", humanize.CommafWithDigits(d.ProcessingRate, 1))
		}
		if d.CurrentFile != "" {
			s += " · " + d.CurrentFile
		}
		return s
	case progress.WikiDetail:
		if d.WikiID != "" {
			return fmt.Sprintf("wiki %s: %d pages, %d sections", d.WikiID, d.PagesCount, d.SectionsCount)
		}
		s := fmt.Sprintf("step %d/%d", d.CompletedSteps, d.TotalSteps)
		if d.CurrentStep != "" {
			s += ": " + d.CurrentStep
		}
		return s
	case progress.ResearchDetail:
		if d.FinalConclusion != "" {
			return "concluded: " + truncate(d.FinalConclusion, 60)
		}
		s := fmt.Sprintf("iteration %d/%d", d.CurrentIteration, d.TotalIterations)
		if d.CurrentFocus != "" {
			s += ": " + d.CurrentFocus
		}
		return s
	case progress.RAGQueryDetail:
		s := d.Stage
		if d.DocumentsRetrieved > 0 {
			if s != "" {
				s += ", "
			}
			s += fmt.Sprintf("%d documents", d.DocumentsRetrieved)
		}
		return s
	default:
		return ""
	}
}

// renderRecord prints one progress line for a record.
func renderRecord(w io.Writer, rec progress.Record) {
	line := fmt.Sprintf("%-15s %-24s %s %3.0f%% %s",
		rec.Type, rec.RepositoryID, progressBar(rec.Progress, 20), rec.Progress*100,
		statusLabel(rec.Status))
	if rec.Status.Terminal() {
		line += fmt.Sprintf(" in %s", rec.Duration().Round(time.Millisecond))
	}
	if s := detailSummary(rec); s != "" {
		line += "  " + s
	}
	if rec.Error != "" {
		line += "  " + rec.Error
	}
	fmt.Fprintln(w, line)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
