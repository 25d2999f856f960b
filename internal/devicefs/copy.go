package devicefs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"

	"tbloader/internal/fileutil"
)

// SkipDir may be returned from a WalkFunc to skip a directory's contents.
var SkipDir = fs.SkipDir

// WalkFunc is called for every entry below the walk root, parents first.
type WalkFunc func(Entry) error

// Walk visits every entry below p in name order. Entry.Rel is relative to p.
func Walk(fsys FS, p string, fn WalkFunc) error {
	root, err := Clean(p)
	if err != nil {
		return failure("walk", p, err)
	}
	return walk(fsys, root, "", fn)
}

func walk(fsys FS, dir, rel string, fn WalkFunc) error {
	entries, err := fsys.List(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		e.Rel = Join(rel, e.Name)
		if err := fn(e); err != nil {
			if errors.Is(err, SkipDir) && e.IsDir {
				continue
			}
			return err
		}
		if e.IsDir {
			if err := walk(fsys, e.Path, e.Rel, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListNames returns the names of the direct children of p accepted by filter.
// A missing directory yields no names.
func ListNames(fsys FS, p string, filter Filter) []string {
	entries, err := fsys.List(p)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if filter == nil || filter(e) {
			names = append(names, e.Name)
		}
	}
	return names
}

// FilesWithSuffix matches regular files whose name ends with suffix, ignoring case.
func FilesWithSuffix(suffix string) Filter {
	suffix = strings.ToLower(suffix)
	return func(e Entry) bool {
		return !e.IsDir && strings.HasSuffix(strings.ToLower(e.Name), suffix)
	}
}

// FindFold looks for a child of dir named name, ignoring case as FAT does,
// and returns its actual path.
func FindFold(fsys FS, dir, name string) (string, bool) {
	direct := Join(dir, name)
	if fsys.Exists(direct) {
		return direct, true
	}
	entries, err := fsys.List(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name, name) {
			return e.Path, true
		}
	}
	return "", false
}

// ReadAll reads the whole file at p.
func ReadAll(fsys FS, p string) ([]byte, error) {
	rc, err := fsys.Open(p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, failure("read", p, err)
	}
	return data, nil
}

// WriteText replaces p with content.
func WriteText(fsys FS, p, content string) error {
	_, err := fsys.CreateFile(p, strings.NewReader(content), true)
	return err
}

// DeleteContents removes everything below p but keeps p itself and returns
// the number of files removed. A missing directory removes nothing.
func DeleteContents(fsys FS, p string) (int, error) {
	entries, err := fsys.List(p)
	if err != nil {
		if IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	total := 0
	for _, e := range entries {
		n, err := fsys.Delete(e.Path, true)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// CopyStats counts what a copy moved.
type CopyStats struct {
	Files int
	Bytes int64
}

// Add accumulates other into s.
func (s *CopyStats) Add(other CopyStats) {
	s.Files += other.Files
	s.Bytes += other.Bytes
}

// Interceptor may take over the copy of a single file. Returning handled=true
// skips the default copy.
type Interceptor func(src Entry, dstPath string) (handled bool, err error)

// CopyOptions tunes CopyTree.
type CopyOptions struct {
	Filter    Filter
	Intercept Interceptor
	// Progress is called after each file with its source, destination, and size.
	Progress func(from, to string, bytes int64)
	// NoOverwrite fails instead of replacing existing destination files.
	NoOverwrite bool
}

// CopyFile copies one file between backends and returns the byte count.
func CopyFile(ctx context.Context, src FS, srcPath string, dst FS, dstPath string, overwrite bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if srcLocal, ok := src.(*Local); ok {
		if dstLocal, ok := dst.(*Local); ok && overwrite {
			from, err := srcLocal.OSPath(srcPath)
			if err != nil {
				return 0, err
			}
			to, err := dstLocal.OSPath(dstPath)
			if err != nil {
				return 0, err
			}
			n, err := fileutil.CopyFileVerified(from, to)
			return n, failure("copy", srcPath, err)
		}
	}
	rc, err := src.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return dst.CreateFile(dstPath, rc, overwrite)
}

// CopyTree copies srcPath (a file or a directory) from src into dstPath on
// dst. Directories accepted by the filter are created even when empty.
func CopyTree(ctx context.Context, src FS, srcPath string, dst FS, dstPath string, opts CopyOptions) (CopyStats, error) {
	var stats CopyStats
	root, err := Clean(srcPath)
	if err != nil {
		return stats, failure("copy", srcPath, err)
	}
	if !src.IsDir(root) {
		size, err := src.Size(root)
		if err != nil {
			return stats, err
		}
		entry := Entry{Path: root, Rel: Base(root), Name: Base(root), Size: size}
		if opts.Filter != nil && !opts.Filter(entry) {
			return stats, nil
		}
		err = copyOne(ctx, src, entry, dst, dstPath, opts, &stats)
		return stats, err
	}
	if err := dst.MkdirAll(dstPath); err != nil {
		return stats, err
	}
	err = Walk(src, root, func(e Entry) error {
		if opts.Filter != nil && !opts.Filter(e) {
			if e.IsDir {
				return SkipDir
			}
			return nil
		}
		target := Join(dstPath, e.Rel)
		if e.IsDir {
			return dst.MkdirAll(target)
		}
		return copyOne(ctx, src, e, dst, target, opts, &stats)
	})
	return stats, err
}

func copyOne(ctx context.Context, src FS, e Entry, dst FS, target string, opts CopyOptions, stats *CopyStats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.Intercept != nil {
		handled, err := opts.Intercept(e, target)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}
	n, err := CopyFile(ctx, src, e.Path, dst, target, !opts.NoOverwrite)
	if err != nil {
		return err
	}
	stats.Files++
	stats.Bytes += n
	if opts.Progress != nil {
		opts.Progress(e.Path, target, n)
	}
	return nil
}

// TreeSize totals the files below p accepted by filter.
func TreeSize(fsys FS, p string, filter Filter) (CopyStats, error) {
	var stats CopyStats
	err := Walk(fsys, p, func(e Entry) error {
		if filter != nil && !filter(e) {
			if e.IsDir {
				return SkipDir
			}
			return nil
		}
		if !e.IsDir {
			stats.Files++
			stats.Bytes += e.Size
		}
		return nil
	})
	return stats, err
}

// ReadLines returns the lines of a text file with CR/LF endings removed.
func ReadLines(fsys FS, p string) ([]string, error) {
	data, err := ReadAll(fsys, p)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
