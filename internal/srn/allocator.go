package srn

import (
	"fmt"
	"strings"
)

// Allocator is a loader's serial number block. The zero value is empty and
// accepts reservations.
type Allocator struct {
	LoaderID     int    `json:"tbloaderid"`
	LoaderHexID  string `json:"tbloaderidhex"`
	Next         int    `json:"nextsrn"`
	PrimaryBegin int    `json:"primarybegin"`
	PrimaryEnd   int    `json:"primaryend"`
	BackupBegin  int    `json:"backupbegin"`
	BackupEnd    int    `json:"backupend"`
}

// ApplyReservation adds the range [begin, end) issued to loader id. It
// returns false, changing nothing, when the range is malformed. Applying a
// reservation while both halves are full panics.
func (a *Allocator) ApplyReservation(id int, hexID string, begin, end int) bool {
	if begin <= 0 || end <= begin {
		return false
	}
	if id != a.LoaderID || hexID != a.LoaderHexID {
		a.LoaderID = id
		a.LoaderHexID = hexID
	}
	switch {
	case a.PrimaryBegin == 0 && a.BackupBegin == 0:
		a.PrimaryBegin = begin
		a.PrimaryEnd = begin + (end-begin)/2
		a.BackupBegin = a.PrimaryEnd
		a.BackupEnd = end
		a.Next = a.PrimaryBegin
	case a.PrimaryBegin == 0:
		a.PrimaryBegin = begin
		a.PrimaryEnd = end
		a.Next = a.PrimaryBegin
	case a.BackupBegin == 0:
		a.BackupBegin = begin
		a.BackupEnd = end
	default:
		panic("srn: reservation applied while primary and backup blocks are both full")
	}
	return true
}

// HasNext reports whether AllocateNext would return a serial.
func (a *Allocator) HasNext() bool {
	return a.PrimaryBegin > 0 && a.PrimaryEnd > a.PrimaryBegin &&
		a.Next >= a.PrimaryBegin && a.Next < a.PrimaryEnd
}

// HasBackup reports whether a backup block is waiting.
func (a *Allocator) HasBackup() bool {
	return a.BackupBegin > 0 && a.BackupEnd > a.BackupBegin
}

// Available is the number of serials left across both blocks.
func (a *Allocator) Available() int {
	n := 0
	if a.HasNext() {
		n += a.PrimaryEnd - a.Next
	}
	if a.HasBackup() {
		n += a.BackupEnd - a.BackupBegin
	}
	return n
}

// AllocateNext returns the next serial, or 0 when none is left. Exhausting the
// primary block promotes the backup block and empties the backup slot.
func (a *Allocator) AllocateNext() int {
	if !a.HasNext() {
		return 0
	}
	next := a.Next
	a.Next++
	if a.Next >= a.PrimaryEnd {
		a.PrimaryBegin = a.BackupBegin
		a.PrimaryEnd = a.BackupEnd
		a.BackupBegin = 0
		a.BackupEnd = 0
		a.Next = a.PrimaryBegin
	}
	return next
}

// Format renders n with this allocator's loader id.
func (a *Allocator) Format(n int) string {
	return FormatSerial(a.LoaderHexID, n)
}

// FormatSerial renders a serial as written on devices, e.g. "B-000C0200".
func FormatSerial(hexID string, n int) string {
	return strings.ToUpper(fmt.Sprintf("B-%s%04X", hexID, n))
}

// Valid reports whether a persisted allocator is internally consistent.
func (a *Allocator) Valid() bool {
	empty := a.Next == 0 && a.PrimaryBegin == 0 && a.PrimaryEnd == 0 && a.BackupBegin == 0 && a.BackupEnd == 0
	return empty || (a.Next >= a.PrimaryBegin && a.Next < a.PrimaryEnd)
}
