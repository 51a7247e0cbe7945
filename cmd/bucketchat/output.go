package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/bucketchat/internal/chat"
	"github.com/kalambet/bucketchat/internal/sources"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

const progressWidth = 20

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, label+":"), val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// progressBar renders percent as a fixed-width bar, e.g. [#####-----] 50%.
func progressBar(percent int) string {
	percent = max(0, min(100, percent))
	filled := percent * progressWidth / 100
	return fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat("-", progressWidth-filled), percent)
}

func printSnapshot(w io.Writer, bucketID string, snap sources.Snapshot) {
	c := snap.Counts
	state := colorize(colorYellow, "processing")
	switch {
	case snap.TotalSources == 0:
		state = colorize(colorDim, "empty")
	case snap.IsFullyProcessed:
		state = colorize(colorGreen, "ready")
	case snap.Ready():
		state = colorize(colorGreen, "partially ready")
	}
	fmt.Fprintf(w, "%s %s %s  %d sources: %d pending, %d processing, %d done, %d failed\n",
		colorize(colorBold, bucketID), progressBar(snap.CompletionPercent), state,
		snap.TotalSources, c.Pending, c.Processing, c.Success, c.Failed)
	for _, f := range snap.Failed {
		label := f.OriginURL
		if label == "" {
			label = f.ID
		}
		msg := f.StatusMessage
		if msg == "" {
			msg = "failed"
		}
		fmt.Fprintf(w, "    %s %s: %s\n", colorize(colorRed, "✗"), label, msg)
	}
}

func printReply(w io.Writer, reply chat.Reply) {
	text := reply.Text
	if reply.Outcome != chat.Answered {
		text = colorize(colorYellow, text)
	}
	fmt.Fprintln(w, text)
	if len(reply.Sources) > 0 {
		fmt.Fprintln(w, colorize(colorDim, "Sources:"))
		for _, c := range reply.Sources {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}
}

func printEntry(w io.Writer, e chat.Entry) {
	who := colorize(colorCyan, "you")
	if e.Sender == chat.SenderAssistant {
		who = colorize(colorGreen, "bot")
	}
	content := e.Content
	if e.Sender == chat.SenderAssistant && e.Outcome != "" && e.Outcome != chat.Answered {
		content = colorize(colorYellow, content)
	}
	fmt.Fprintf(w, "%s %s %s\n", colorize(colorDim, e.CreatedAt.Local().Format("2006-01-02 15:04")), who, content)
	for _, c := range e.Sources {
		fmt.Fprintf(w, "    - %s\n", c)
	}
}
