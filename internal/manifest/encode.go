package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"tbloader/internal/services"
)

type encoder struct {
	w   *bufio.Writer
	err error
}

// Encode renders m in the device format.
func Encode(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders m to w. References are validated first so a device never
// receives a manifest pointing outside its path table.
func Write(w io.Writer, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	created := m.Created
	if created.IsZero() {
		created = time.Now()
	}
	version := m.Version
	if version == 0 {
		version = FormatVersion
	}

	e := &encoder{w: bufio.NewWriter(w)}
	e.heading(0, "Created on "+created.Format("2006/01/02 @ 15:04:05 MST"))
	e.line(0, strconv.Itoa(version), "format version")
	e.line(0, m.Deployment, "deployment name")

	e.heading(0, "paths")
	e.line(0, strconv.Itoa(len(m.Paths)), "number of paths")
	for _, p := range m.Paths {
		e.line(0, NormalizeDir(p), "")
	}

	e.line(0, strconv.Itoa(len(m.Packages)), "number of packages")
	for _, pkg := range m.Packages {
		e.heading(0, "package: "+pkg.Name)
		e.line(0, pkg.Name, "")
		if pkg.Announcement != nil {
			e.audio(1, *pkg.Announcement, "package announcement")
		} else {
			e.line(1, "-", "package announcement")
		}
		prompts := make([]string, 0, len(pkg.Prompts))
		for _, idx := range pkg.Prompts {
			prompts = append(prompts, strconv.Itoa(idx))
		}
		if len(prompts) == 0 {
			prompts = append(prompts, "-")
		}
		e.line(1, strings.Join(prompts, ";"), "path(s) to prompts")

		e.line(1, strconv.Itoa(len(pkg.Playlists)), "number of playlists")
		for _, pl := range pkg.Playlists {
			e.heading(2, "playlist: "+pl.Name)
			e.line(2, pl.Name, "")
			e.audio(2, pl.ShortPrompt, "playlist announcement")
			e.audio(2, pl.LongPrompt, "playlist invitation")
			e.line(2, strconv.Itoa(len(pl.Messages)), "number of messages")
			for _, msg := range pl.Messages {
				e.audio(3, msg.AudioRef, msg.Title)
			}
		}
	}
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

// heading writes a comment line. Headings never fail: one that does not fit
// loses its indentation and is then cut short.
func (e *encoder) heading(level int, text string) {
	if e.err != nil {
		return
	}
	text = "#------- " + text + " --------"
	if indented := strings.Repeat(indent, level) + text; len(indented) <= MaxLineLength {
		text = indented
	}
	e.write(truncate(text, MaxLineLength))
}

func (e *encoder) audio(level int, ref AudioRef, description string) {
	e.line(level, fmt.Sprintf("%d  %s", ref.Path, ref.File), description)
}

// line writes one value. An over-long line loses its indentation, then its
// comment is truncated; a value that still does not fit is an error.
func (e *encoder) line(level int, data, comment string) {
	if e.err != nil {
		return
	}
	text := strings.Repeat(indent, level) + data
	if len(text) > MaxLineLength {
		text = data
		if len(text) > MaxLineLength {
			e.err = services.Wrap(services.ErrManifestEncodingOverflow, "manifest", "encode",
				fmt.Sprintf("line of %d bytes exceeds %d: %.40s...", len(text), MaxLineLength, text), nil)
			return
		}
	}
	if strings.TrimSpace(comment) != "" {
		if len(text) < minCommentStart {
			text += strings.Repeat(" ", minCommentStart-len(text))
		}
		text = truncate(text+" # "+comment, MaxLineLength)
	}
	e.write(text)
}

func (e *encoder) write(text string) {
	if _, err := e.w.WriteString(text + "\n"); err != nil {
		e.err = err
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
