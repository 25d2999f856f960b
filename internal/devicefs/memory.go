package devicefs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process FS used by tests and dry runs.
type Memory struct {
	mu    sync.RWMutex
	name  string
	files map[string][]byte
	dirs  map[string]struct{}
}

// NewMemory returns an empty in-memory FS.
func NewMemory(name string) *Memory {
	return &Memory{
		name:  name,
		files: make(map[string][]byte),
		dirs:  map[string]struct{}{"": {}},
	}
}

func (m *Memory) Root() string { return "mem://" + m.name }

func (m *Memory) Exists(p string) bool {
	rel, err := Clean(p)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, isFile := m.files[rel]
	_, isDir := m.dirs[rel]
	return isFile || isDir
}

func (m *Memory) IsDir(p string) bool {
	rel, err := Clean(p)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.dirs[rel]
	return ok
}

func (m *Memory) List(p string) ([]Entry, error) {
	rel, err := Clean(p)
	if err != nil {
		return nil, failure("list", p, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.dirs[rel]; !ok {
		return nil, failure("list", rel, fs.ErrNotExist)
	}
	var entries []Entry
	for d := range m.dirs {
		if d != rel && Dir(d) == rel {
			entries = append(entries, Entry{Path: d, Rel: Base(d), Name: Base(d), IsDir: true})
		}
	}
	for f, data := range m.files {
		if Dir(f) == rel {
			entries = append(entries, Entry{Path: f, Rel: Base(f), Name: Base(f), Size: int64(len(data))})
		}
	}
	sortEntries(entries)
	return entries, nil
}

func (m *Memory) Open(p string) (io.ReadCloser, error) {
	rel, err := Clean(p)
	if err != nil {
		return nil, failure("open", p, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[rel]
	if !ok {
		return nil, failure("open", rel, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data...))), nil
}

func (m *Memory) Size(p string) (int64, error) {
	rel, err := Clean(p)
	if err != nil {
		return 0, failure("stat", p, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if data, ok := m.files[rel]; ok {
		return int64(len(data)), nil
	}
	if _, ok := m.dirs[rel]; ok {
		return 0, nil
	}
	return 0, failure("stat", rel, fs.ErrNotExist)
}

func (m *Memory) CreateFile(p string, r io.Reader, overwrite bool) (int64, error) {
	rel, err := Clean(p)
	if err != nil {
		return 0, failure("create", p, err)
	}
	if rel == "" {
		return 0, failure("create", rel, fs.ErrInvalid)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, failure("create", rel, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, isDir := m.dirs[rel]; isDir {
		return 0, failure("create", rel, fmt.Errorf("is a directory: %w", fs.ErrExist))
	}
	if _, exists := m.files[rel]; exists && !overwrite {
		return 0, failure("create", rel, fs.ErrExist)
	}
	m.mkdirsLocked(Dir(rel))
	m.files[rel] = data
	return int64(len(data)), nil
}

func (m *Memory) Append(p string, r io.Reader) (int64, error) {
	rel, err := Clean(p)
	if err != nil {
		return 0, failure("append", p, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, failure("append", rel, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirsLocked(Dir(rel))
	m.files[rel] = append(m.files[rel], data...)
	return int64(len(data)), nil
}

func (m *Memory) Delete(p string, recursive bool) (int, error) {
	rel, err := Clean(p)
	if err != nil {
		return 0, failure("delete", p, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[rel]; ok {
		delete(m.files, rel)
		return 1, nil
	}
	if _, ok := m.dirs[rel]; !ok {
		return 0, failure("delete", rel, fs.ErrNotExist)
	}
	prefix := rel + "/"
	if rel == "" {
		prefix = ""
	}
	var files, dirs []string
	for f := range m.files {
		if strings.HasPrefix(f, prefix) {
			files = append(files, f)
		}
	}
	for d := range m.dirs {
		if d != rel && strings.HasPrefix(d, prefix) {
			dirs = append(dirs, d)
		}
	}
	if !recursive && (len(files) > 0 || len(dirs) > 0) {
		return 0, failure("delete", rel, fmt.Errorf("directory not empty: %w", fs.ErrInvalid))
	}
	for _, f := range files {
		delete(m.files, f)
	}
	for _, d := range dirs {
		delete(m.dirs, d)
	}
	if rel != "" {
		delete(m.dirs, rel)
	}
	return len(files), nil
}

func (m *Memory) MkdirAll(p string) error {
	rel, err := Clean(p)
	if err != nil {
		return failure("mkdir", p, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[rel]; ok {
		return failure("mkdir", rel, fs.ErrExist)
	}
	m.mkdirsLocked(rel)
	return nil
}

func (m *Memory) mkdirsLocked(rel string) {
	for rel != "" {
		m.dirs[rel] = struct{}{}
		rel = Dir(rel)
	}
}

func (m *Memory) Rename(from, to string) error {
	src, err := Clean(from)
	if err != nil {
		return failure("rename", from, err)
	}
	dst, err := Clean(to)
	if err != nil {
		return failure("rename", to, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.files[src]; ok {
		delete(m.files, src)
		m.mkdirsLocked(Dir(dst))
		m.files[dst] = data
		return nil
	}
	if _, ok := m.dirs[src]; !ok || src == "" {
		return failure("rename", src, fs.ErrNotExist)
	}
	prefix := src + "/"
	for f, data := range m.files {
		if strings.HasPrefix(f, prefix) {
			delete(m.files, f)
			m.files[dst+"/"+strings.TrimPrefix(f, prefix)] = data
		}
	}
	var moved []string
	for d := range m.dirs {
		if d == src || strings.HasPrefix(d, prefix) {
			moved = append(moved, d)
		}
	}
	sort.Strings(moved)
	for _, d := range moved {
		delete(m.dirs, d)
	}
	m.mkdirsLocked(dst)
	for _, d := range moved {
		m.mkdirsLocked(dst + strings.TrimPrefix(d, src))
	}
	for f := range m.files {
		m.mkdirsLocked(Dir(f))
	}
	return nil
}
