package devicefs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"tbloader/internal/services"
)

// ErrEscapesRoot is returned for paths that climb above the backend root.
var ErrEscapesRoot = errors.New("path escapes root")

// Entry describes one file or directory.
type Entry struct {
	// Path is relative to the backend root.
	Path string
	// Rel is relative to the directory being listed, walked, or copied.
	Rel   string
	Name  string
	IsDir bool
	Size  int64
}

// Filter selects entries during listing and copying. Returning false for a
// directory skips its whole subtree.
type Filter func(Entry) bool

// FS is a minimal hierarchical filesystem.
type FS interface {
	// Root describes the backend for logs.
	Root() string
	Exists(p string) bool
	IsDir(p string) bool
	// List returns the direct children of p sorted by name.
	List(p string) ([]Entry, error)
	Open(p string) (io.ReadCloser, error)
	Size(p string) (int64, error)
	// CreateFile writes r to p, creating parents. With overwrite false an
	// existing file is an error.
	CreateFile(p string, r io.Reader, overwrite bool) (int64, error)
	Append(p string, r io.Reader) (int64, error)
	// Delete removes p and returns the number of files removed. A non-empty
	// directory requires recursive.
	Delete(p string, recursive bool) (int, error)
	MkdirAll(p string) error
	Rename(from, to string) error
}

// IoFailure reports a failed filesystem operation.
type IoFailure struct {
	Op   string
	Path string
	Err  error
}

func (e *IoFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both the domain marker and the cause.
func (e *IoFailure) Unwrap() []error {
	return []error{services.ErrIO, e.Err}
}

func failure(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var existing *IoFailure
	if errors.As(err, &existing) {
		return err
	}
	return &IoFailure{Op: op, Path: p, Err: err}
}

// IsNotExist reports whether err means the path was missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Clean normalizes p to the slash-separated relative form used by every
// backend. The root is returned as "".
func Clean(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "", nil
	}
	rel := strings.TrimPrefix(cleaned, "/")
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("%q: %w", p, ErrEscapesRoot)
		}
	}
	return rel, nil
}

// Join joins path elements with slashes, ignoring empty ones.
func Join(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e = strings.Trim(e, "/"); e != "" && e != "." {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// Base returns the last element of p.
func Base(p string) string {
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Dir returns all but the last element of p, or "" at the root.
func Dir(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}
