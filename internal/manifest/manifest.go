package manifest

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"tbloader/internal/services"
)

const (
	// FormatVersion is the only manifest version understood by devices.
	FormatVersion = 1
	// MaxLineLength is the longest line firmware will read.
	MaxLineLength = 200
	// FileName is the manifest's name on a device and in an image.
	FileName = "packages_data.txt"

	indent          = "  "
	minCommentStart = 20
)

// AudioRef names an audio file as an index into the path table and a file
// name within that directory.
type AudioRef struct {
	Path int
	File string
}

// Message is one playable item of a playlist.
type Message struct {
	Title string
	AudioRef
}

// Playlist is a named list of messages with its two prompts.
type Playlist struct {
	Name        string
	ShortPrompt AudioRef
	LongPrompt  AudioRef
	Messages    []Message
}

// Package is one content package. Announcement may be nil.
type Package struct {
	Name         string
	Announcement *AudioRef
	Prompts      []int
	Playlists    []Playlist
}

// Manifest is the decoded form of packages_data.txt.
type Manifest struct {
	Version    int
	Deployment string
	Paths      []string
	Packages   []Package
	// Created is written in the header comment; zero means now. It is not
	// read back.
	Created time.Time
}

// New returns an empty manifest for deployment.
func New(deployment string) *Manifest {
	return &Manifest{Version: FormatVersion, Deployment: deployment}
}

// NormalizeDir converts p to the "/dir/" form used in the path table.
func NormalizeDir(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// PathIndex returns the index of dir in the path table, adding it when
// missing.
func (m *Manifest) PathIndex(dir string) int {
	dir = NormalizeDir(dir)
	for i, p := range m.Paths {
		if p == dir {
			return i
		}
	}
	m.Paths = append(m.Paths, dir)
	return len(m.Paths) - 1
}

// Ref builds an AudioRef for a full file path, registering its directory.
func (m *Manifest) Ref(file string) AudioRef {
	file = strings.ReplaceAll(file, "\\", "/")
	return AudioRef{Path: m.PathIndex(path.Dir(file)), File: path.Base(file)}
}

// Resolve returns the full path of ref, or false when its index is out of
// range.
func (m *Manifest) Resolve(ref AudioRef) (string, bool) {
	if ref.Path < 0 || ref.Path >= len(m.Paths) {
		return "", false
	}
	return m.Paths[ref.Path] + ref.File, true
}

// Files lists every audio file the manifest references, in manifest order
// and without duplicates. Unresolvable references are skipped.
func (m *Manifest) Files() []string {
	seen := make(map[string]struct{})
	var files []string
	add := func(ref AudioRef) {
		p, ok := m.Resolve(ref)
		if !ok {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}
	for _, pkg := range m.Packages {
		if pkg.Announcement != nil {
			add(*pkg.Announcement)
		}
		for _, pl := range pkg.Playlists {
			add(pl.ShortPrompt)
			add(pl.LongPrompt)
			for _, msg := range pl.Messages {
				add(msg.AudioRef)
			}
		}
	}
	return files
}

// PackageNames returns the package names in order.
func (m *Manifest) PackageNames() []string {
	names := make([]string, 0, len(m.Packages))
	for _, pkg := range m.Packages {
		names = append(names, pkg.Name)
	}
	return names
}

// Validate checks that every referenced path index exists and that names
// and file names can be written on a single manifest line.
func (m *Manifest) Validate() error {
	invalid := func(format string, args ...any) error {
		return services.Wrap(services.ErrValidation, "manifest", "validate", fmt.Sprintf(format, args...), nil)
	}
	name := func(kind, value string) error {
		if strings.TrimSpace(value) == "" || strings.ContainsAny(value, "#\n") {
			return invalid("%s name %q is empty or contains '#'", kind, value)
		}
		return nil
	}
	check := func(where string, ref AudioRef) error {
		if ref.Path < 0 || ref.Path >= len(m.Paths) {
			return invalid("%s: path index %d out of range (%d paths)", where, ref.Path, len(m.Paths))
		}
		if ref.File == "" || strings.ContainsFunc(ref.File, func(r rune) bool { return r == '#' || r == ';' || unicode.IsSpace(r) }) {
			return invalid("%s: file name %q must be non-empty without spaces, ';' or '#'", where, ref.File)
		}
		return nil
	}
	if err := name("deployment", m.Deployment); err != nil {
		return err
	}
	for _, pkg := range m.Packages {
		if err := name("package", pkg.Name); err != nil {
			return err
		}
		if pkg.Announcement != nil {
			if err := check(pkg.Name+" announcement", *pkg.Announcement); err != nil {
				return err
			}
		}
		for _, idx := range pkg.Prompts {
			if idx < 0 || idx >= len(m.Paths) {
				return invalid("%s prompts: path index %d out of range (%d paths)", pkg.Name, idx, len(m.Paths))
			}
		}
		for _, pl := range pkg.Playlists {
			if err := name("playlist", pl.Name); err != nil {
				return err
			}
			where := pkg.Name + "/" + pl.Name
			if err := check(where+" short prompt", pl.ShortPrompt); err != nil {
				return err
			}
			if err := check(where+" long prompt", pl.LongPrompt); err != nil {
				return err
			}
			for _, msg := range pl.Messages {
				if err := check(where+" message", msg.AudioRef); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Merge appends the packages of others to into, re-indexing their audio
// references through into's path table. It returns into.
func Merge(into *Manifest, others ...*Manifest) *Manifest {
	for _, other := range others {
		if other == nil {
			continue
		}
		remap := make([]int, len(other.Paths))
		for i, p := range other.Paths {
			remap[i] = into.PathIndex(p)
		}
		fix := func(ref AudioRef) AudioRef {
			if ref.Path >= 0 && ref.Path < len(remap) {
				ref.Path = remap[ref.Path]
			}
			return ref
		}
		for _, pkg := range other.Packages {
			merged := Package{Name: pkg.Name}
			if pkg.Announcement != nil {
				a := fix(*pkg.Announcement)
				merged.Announcement = &a
			}
			for _, idx := range pkg.Prompts {
				merged.Prompts = append(merged.Prompts, fix(AudioRef{Path: idx}).Path)
			}
			for _, pl := range pkg.Playlists {
				np := Playlist{Name: pl.Name, ShortPrompt: fix(pl.ShortPrompt), LongPrompt: fix(pl.LongPrompt)}
				for _, msg := range pl.Messages {
					np.Messages = append(np.Messages, Message{Title: msg.Title, AudioRef: fix(msg.AudioRef)})
				}
				merged.Playlists = append(merged.Playlists, np)
			}
			into.Packages = append(into.Packages, merged)
		}
	}
	return into
}
