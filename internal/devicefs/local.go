package devicefs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"tbloader/internal/fileutil"
)

// Local is an FS rooted at an operating-system directory, typically a device
// mount point or the collected-data tree.
type Local struct {
	root string
}

// NewLocal returns an FS rooted at dir. The directory does not need to exist yet.
func NewLocal(dir string) *Local {
	return &Local{root: filepath.Clean(dir)}
}

func (l *Local) Root() string { return l.root }

func (l *Local) resolve(op, p string) (string, string, error) {
	rel, err := Clean(p)
	if err != nil {
		return "", rel, failure(op, p, err)
	}
	return filepath.Join(l.root, filepath.FromSlash(rel)), rel, nil
}

// OSPath returns the operating-system path for p.
func (l *Local) OSPath(p string) (string, error) {
	full, _, err := l.resolve("resolve", p)
	return full, err
}

func (l *Local) Exists(p string) bool {
	full, _, err := l.resolve("stat", p)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

func (l *Local) IsDir(p string) bool {
	full, _, err := l.resolve("stat", p)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.IsDir()
}

func (l *Local) List(p string) ([]Entry, error) {
	full, rel, err := l.resolve("list", p)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(full)
	if err != nil {
		return nil, failure("list", rel, err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		entry := Entry{Path: Join(rel, d.Name()), Rel: d.Name(), Name: d.Name(), IsDir: d.IsDir()}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

func (l *Local) Open(p string) (io.ReadCloser, error) {
	full, rel, err := l.resolve("open", p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, failure("open", rel, err)
	}
	return f, nil
}

func (l *Local) Size(p string) (int64, error) {
	full, rel, err := l.resolve("stat", p)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, failure("stat", rel, err)
	}
	return info.Size(), nil
}

func (l *Local) CreateFile(p string, r io.Reader, overwrite bool) (int64, error) {
	full, rel, err := l.resolve("create", p)
	if err != nil {
		return 0, err
	}
	n, err := fileutil.WriteStream(full, r, overwrite)
	if errors.Is(err, fileutil.ErrExists) {
		err = fs.ErrExist
	}
	return n, failure("create", rel, err)
}

func (l *Local) Append(p string, r io.Reader) (int64, error) {
	full, rel, err := l.resolve("append", p)
	if err != nil {
		return 0, err
	}
	n, err := fileutil.AppendStream(full, r)
	return n, failure("append", rel, err)
}

func (l *Local) Delete(p string, recursive bool) (int, error) {
	full, rel, err := l.resolve("delete", p)
	if err != nil {
		return 0, err
	}
	info, err := os.Lstat(full)
	if err != nil {
		return 0, failure("delete", rel, err)
	}
	if !info.IsDir() {
		if err := os.Remove(full); err != nil {
			return 0, failure("delete", rel, err)
		}
		return 1, nil
	}
	if !recursive {
		return 0, failure("delete", rel, os.Remove(full))
	}
	count := 0
	_ = filepath.WalkDir(full, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			count++
		}
		return nil
	})
	return count, failure("delete", rel, os.RemoveAll(full))
}

func (l *Local) MkdirAll(p string) error {
	full, rel, err := l.resolve("mkdir", p)
	if err != nil {
		return err
	}
	return failure("mkdir", rel, os.MkdirAll(full, 0o755))
}

func (l *Local) Rename(from, to string) error {
	src, srcRel, err := l.resolve("rename", from)
	if err != nil {
		return err
	}
	dst, _, err := l.resolve("rename", to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return failure("rename", srcRel, err)
	}
	return failure("rename", srcRel, os.Rename(src, dst))
}
