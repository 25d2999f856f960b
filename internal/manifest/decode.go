package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"tbloader/internal/services"
)

type decoder struct {
	sc     *bufio.Scanner
	lineNo int
}

// Decode parses a manifest from data.
func Decode(data []byte) (*Manifest, error) {
	return Read(bytes.NewReader(data))
}

// Read parses a manifest from r. Comments are ignored except the trailing
// comment of a message line, which is its title.
func Read(r io.Reader) (*Manifest, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	d := &decoder{sc: sc}

	version, err := d.int("format version")
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, d.fail(fmt.Sprintf("unsupported format version %d", version), nil)
	}
	name, _, err := d.next("deployment name")
	if err != nil {
		return nil, err
	}
	m := &Manifest{Version: version, Deployment: name}

	numPaths, err := d.int("number of paths")
	if err != nil {
		return nil, err
	}
	for range numPaths {
		p, _, err := d.next("path")
		if err != nil {
			return nil, err
		}
		m.Paths = append(m.Paths, NormalizeDir(p))
	}

	numPackages, err := d.int("number of packages")
	if err != nil {
		return nil, err
	}
	for range numPackages {
		pkg, err := d.pkg()
		if err != nil {
			return nil, err
		}
		m.Packages = append(m.Packages, pkg)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *decoder) pkg() (Package, error) {
	var pkg Package
	var err error
	if pkg.Name, _, err = d.next("package name"); err != nil {
		return pkg, err
	}
	fields, err := d.fields("package announcement")
	if err != nil {
		return pkg, err
	}
	if !(len(fields) == 1 && fields[0] == "-") {
		ref, err := d.ref(fields, "package announcement")
		if err != nil {
			return pkg, err
		}
		pkg.Announcement = &ref
	}
	if fields, err = d.fields("prompt paths"); err != nil {
		return pkg, err
	}
	for _, f := range fields {
		if f == "-" {
			continue
		}
		idx, err := strconv.Atoi(f)
		if err != nil {
			return pkg, d.fail("prompt path index "+strconv.Quote(f), err)
		}
		pkg.Prompts = append(pkg.Prompts, idx)
	}
	numPlaylists, err := d.int("number of playlists")
	if err != nil {
		return pkg, err
	}
	for range numPlaylists {
		pl, err := d.playlist()
		if err != nil {
			return pkg, err
		}
		pkg.Playlists = append(pkg.Playlists, pl)
	}
	return pkg, nil
}

func (d *decoder) playlist() (Playlist, error) {
	var pl Playlist
	var err error
	if pl.Name, _, err = d.next("playlist name"); err != nil {
		return pl, err
	}
	if pl.ShortPrompt, err = d.audio("playlist announcement"); err != nil {
		return pl, err
	}
	if pl.LongPrompt, err = d.audio("playlist invitation"); err != nil {
		return pl, err
	}
	numMessages, err := d.int("number of messages")
	if err != nil {
		return pl, err
	}
	for range numMessages {
		value, comment, err := d.next("message")
		if err != nil {
			return pl, err
		}
		ref, err := d.ref(splitFields(value), "message")
		if err != nil {
			return pl, err
		}
		pl.Messages = append(pl.Messages, Message{Title: comment, AudioRef: ref})
	}
	return pl, nil
}

// next returns the next non-blank value and its trailing comment.
func (d *decoder) next(what string) (string, string, error) {
	for d.sc.Scan() {
		d.lineNo++
		value, comment, _ := strings.Cut(d.sc.Text(), "#")
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		return value, strings.TrimSpace(comment), nil
	}
	if err := d.sc.Err(); err != nil {
		return "", "", d.fail("read "+what, err)
	}
	return "", "", d.fail("unexpected end of manifest reading "+what, nil)
}

func (d *decoder) fields(what string) ([]string, error) {
	value, _, err := d.next(what)
	if err != nil {
		return nil, err
	}
	return splitFields(value), nil
}

func (d *decoder) int(what string) (int, error) {
	value, _, err := d.next(what)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, d.fail(fmt.Sprintf("%s: %q is not a count", what, value), err)
	}
	return n, nil
}

func (d *decoder) audio(what string) (AudioRef, error) {
	fields, err := d.fields(what)
	if err != nil {
		return AudioRef{}, err
	}
	return d.ref(fields, what)
}

func (d *decoder) ref(fields []string, what string) (AudioRef, error) {
	if len(fields) < 2 {
		return AudioRef{}, d.fail(what+": expected path index and file name", nil)
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return AudioRef{}, d.fail(fmt.Sprintf("%s: bad path index %q", what, fields[0]), err)
	}
	return AudioRef{Path: idx, File: fields[1]}, nil
}

func (d *decoder) fail(msg string, err error) error {
	return services.Wrap(services.ErrValidation, "manifest", "decode", fmt.Sprintf("line %d: %s", d.lineNo, msg), err)
}

func splitFields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || unicode.IsSpace(r)
	})
}
