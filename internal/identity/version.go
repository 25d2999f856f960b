package identity

import (
	"tbloader/internal/devicefs"
)

// Version is the device hardware generation.
type Version int

const (
	VersionUnknown Version = iota
	Gen1
	Gen2
)

func (v Version) String() string {
	switch v {
	case Gen1:
		return "tbv1"
	case Gen2:
		return "tbv2"
	default:
		return "unknown"
	}
}

// ParseVersion is the inverse of String.
func ParseVersion(s string) Version {
	switch s {
	case "tbv1", "gen1", "1":
		return Gen1
	case "tbv2", "gen2", "2":
		return Gen2
	default:
		return VersionUnknown
	}
}

var versionMarkers = []struct {
	version Version
	sets    [][]string
}{
	{Gen1, [][]string{{"config.txt", "profiles.txt"}}},
	{Gen2, [][]string{{"device_ID.txt", "firmware_ID.txt"}, {"QC_Pass.txt", "bootcount.txt"}}},
}

// DetectVersion looks for the marker files each generation keeps in system/.
func DetectVersion(fsys devicefs.FS) Version {
	for _, vm := range versionMarkers {
		for _, set := range vm.sets {
			found := true
			for _, name := range set {
				if _, ok := devicefs.FindFold(fsys, "system", name); !ok {
					found = false
					break
				}
			}
			if found {
				return vm.version
			}
		}
	}
	return VersionUnknown
}
