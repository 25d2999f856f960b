package updater

import (
	"strconv"
	"strings"

	"tbloader/internal/diskutil"
)

// Gen2Label derives the volume label of a second generation device from its
// serial. When the serial ends in at least three hexadecimal fields each is
// rewritten in base 36 and the results are joined with "TB"; otherwise the
// text after the last '.' is used. Labels are upper case and at most
// diskutil.MaxLabelLength characters.
func Gen2Label(serial string) string {
	serial = strings.TrimSpace(serial)
	fields := strings.FieldsFunc(serial, func(r rune) bool { return r == '.' || r == '-' })
	if len(fields) >= 3 {
		tail := fields[len(fields)-3:]
		encoded := make([]string, 0, len(tail))
		for _, f := range tail {
			n, err := strconv.ParseUint(f, 16, 64)
			if err != nil {
				encoded = nil
				break
			}
			encoded = append(encoded, strings.ToUpper(strconv.FormatUint(n, 36)))
		}
		if encoded != nil {
			return truncateLabel(strings.Join(encoded, "TB"))
		}
	}
	if i := strings.LastIndexByte(serial, '.'); i >= 0 && i < len(serial)-1 {
		serial = serial[i+1:]
	}
	return truncateLabel(strings.ToUpper(serial))
}

// Gen1Label is the serial itself, upper cased and truncated.
func Gen1Label(serial string) string {
	return truncateLabel(strings.ToUpper(strings.TrimSpace(serial)))
}

func truncateLabel(s string) string {
	if len(s) > diskutil.MaxLabelLength {
		return s[:diskutil.MaxLabelLength]
	}
	return s
}
