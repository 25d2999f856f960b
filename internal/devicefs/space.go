package devicefs

// FreeSpace reports the bytes available on the volume behind fsys. Only
// local backends know it.
func FreeSpace(fsys FS) (int64, bool) {
	l, ok := fsys.(*Local)
	if !ok {
		return 0, false
	}
	return freeSpace(l.root)
}
