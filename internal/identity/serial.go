package identity

import (
	"strconv"
	"strings"
)

const (
	// Unknown marks a field that no source could supply.
	Unknown = "UNKNOWN"
	// NeedSerialNumber replaces a serial number that must be allocated before
	// the device is written.
	NeedSerialNumber = "-- to be assigned --"
	// DefaultSerialPrefix is the legacy prefix of serial numbers in flash.
	DefaultSerialPrefix = "b-"
	// StartingSerialNumber is the lowest serial an allocator ever issues.
	StartingSerialNumber = 0x200

	maxLoaderID = 0x4f
)

// IsSerialFormatGood reports whether sn has the legacy form: the prefix,
// ignoring case, and exactly ten characters.
func IsSerialFormatGood(prefix, sn string) bool {
	return len(sn) == 10 && strings.HasPrefix(strings.ToLower(sn), strings.ToLower(prefix))
}

// IsSerialFormatGood2 reports whether sn is a well formed allocated serial:
// "A-" or "B-", four hex digits of loader id, four hex digits of serial.
func IsSerialFormatGood2(sn string) bool {
	if len(sn) != 10 || sn[1] != '-' {
		return false
	}
	if c := sn[0]; c != 'a' && c != 'A' && c != 'b' && c != 'B' {
		return false
	}
	high, err := strconv.ParseUint(sn[2:6], 16, 32)
	if err != nil {
		return false
	}
	if !(high < maxLoaderID || (high > 0x8000 && high < 0x8000|maxLoaderID)) {
		return false
	}
	low, err := strconv.ParseUint(sn[6:], 16, 32)
	if err != nil {
		return false
	}
	// A factory batch shipped with B-000C036A burned in; those are reissued.
	if high == 0x000c && low == 0x036a {
		return false
	}
	return low >= StartingSerialNumber
}

// NeedsNewSerial reports whether sn must be replaced by an allocated serial.
func NeedsNewSerial(sn string) bool {
	return !IsSerialFormatGood2(sn)
}
