package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCopyFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "a", "b", "dst.txt")

	if err := os.WriteFile(src, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := CopyFile(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("hello world")) {
		t.Fatalf("copied %d bytes", n)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("content mismatch: got %q", got)
	}
}

func TestWriteStreamRespectsOverwrite(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.txt")
	if _, err := WriteStream(dst, strings.NewReader("first"), false); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteStream(dst, strings.NewReader("second"), false); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := WriteStream(dst, strings.NewReader("third"), true); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "third" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}

func TestAppendStream(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "log", "ops.log")
	for _, chunk := range []string{"a\n", "b\n"} {
		if _, err := AppendStream(dst, strings.NewReader(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "a\nb\n" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.zip")
	dst := filepath.Join(dir, "out", "dst.zip")
	content := []byte("verified content here")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := CopyFileVerified(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(content)) {
		t.Fatalf("copied %d bytes", n)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}
