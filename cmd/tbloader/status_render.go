package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const ansiReset = "\x1b[0m"

var statusStyles = map[statusKind]struct{ tag, color string }{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

// statusReport prints the sectioned label/state listings of the status and
// doctor commands. Sections after the first are separated by a blank line.
type statusReport struct {
	out      io.Writer
	color    bool
	sections int
}

func newStatusReport(out io.Writer) *statusReport {
	return &statusReport{out: out, color: shouldColorize(out)}
}

func (r *statusReport) section(title string) {
	if r.sections > 0 {
		fmt.Fprintln(r.out)
	}
	r.sections++
	heading := "== " + strings.TrimSpace(title) + " =="
	r.paint(statusInfo, heading)
	r.paint(statusInfo, strings.Repeat("-", len(heading)))
}

func (r *statusReport) item(label string, kind statusKind, message string) {
	r.paint(kind, formatStatusItem(label, kind, message))
}

func (r *statusReport) text(line string) {
	fmt.Fprintln(r.out, line)
}

func (r *statusReport) paint(kind statusKind, line string) {
	if r.color {
		line = statusStyles[kind].color + line + ansiReset
	}
	fmt.Fprintln(r.out, line)
}

func formatStatusItem(label string, kind statusKind, message string) string {
	state := "[" + statusStyles[kind].tag + "]"
	if message != "" {
		state += " " + message
	}
	return fmt.Sprintf("  %-24s %s", label+":", state)
}

// shouldColorize reports whether writer is a terminal. Progress redraws and
// ANSI colors are limited to terminals.
func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
