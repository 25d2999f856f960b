//go:build !unix

package devicefs

func freeSpace(string) (int64, bool) { return 0, false }
