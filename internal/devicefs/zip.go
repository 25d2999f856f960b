package devicefs

import (
	"archive/zip"
	"context"
	"io"
)

// ZipTree writes every file below p into a zip archive on w. Entry names are
// relative to p.
func ZipTree(ctx context.Context, fsys FS, p string, w io.Writer) (CopyStats, error) {
	var stats CopyStats
	zw := zip.NewWriter(w)
	err := Walk(fsys, p, func(e Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir {
			_, err := zw.Create(e.Rel + "/")
			return err
		}
		out, err := zw.Create(e.Rel)
		if err != nil {
			return err
		}
		rc, err := fsys.Open(e.Path)
		if err != nil {
			return err
		}
		n, err := io.Copy(out, rc)
		rc.Close()
		if err != nil {
			return failure("zip", e.Path, err)
		}
		stats.Files++
		stats.Bytes += n
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return stats, err
	}
	return stats, zw.Close()
}
