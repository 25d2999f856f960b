package devicefs

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"
)

func TestZipTree(t *testing.T) {
	fsys := NewMemory("zip")
	mustWrite(t, fsys, "gathered/system/config.txt", "cfg")
	mustWrite(t, fsys, "gathered/statistics/flashData.bin", "\x01\x02")

	var buf bytes.Buffer
	stats, err := ZipTree(context.Background(), fsys, "gathered", &buf)
	if err != nil {
		t.Fatalf("ZipTree: %v", err)
	}
	if stats.Files != 2 || stats.Bytes != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	found := map[string]string{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		found[f.Name] = string(data)
	}
	if found["system/config.txt"] != "cfg" || found["statistics/flashData.bin"] != "\x01\x02" {
		t.Fatalf("unexpected archive contents %v", found)
	}
}
