// Package diskutil wraps the operating system utilities that check, format,
// and relabel the FAT volume of a Talking Book.
//
// Commands shells out to fsck.vfat, mkfs.vfat, fatlabel, and lsblk (names
// are configurable). Unsupported stands in on hosts without those tools and
// reports services.ErrUnsupportedOnPlatform for every mutating call, which
// the updater treats as "skip and log" rather than a hard failure.
package diskutil
