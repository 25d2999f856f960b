package identity

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Keys written to system/deployment.properties.
const (
	PropTalkingBookID    = "TALKINGBOOKID"
	PropProject          = "PROJECT"
	PropDeployment       = "DEPLOYMENT"
	PropPackage          = "PACKAGE"
	PropCommunity        = "COMMUNITY"
	PropTimestamp        = "TIMESTAMP"
	PropTestDeployment   = "TESTDEPLOYMENT"
	PropUserName         = "USERNAME"
	PropUserEmail        = "USEREMAIL"
	PropTBCDID           = "TBCDID"
	PropNewTBID          = "NEWTBID"
	PropLocation         = "LOCATION"
	PropDeploymentUUID   = "DEPLOYMENT_UUID"
	PropDeploymentNumber = "DEPLOYMENT_NUMBER"
	PropFirmware         = "FIRMWARE"
	PropLatestFirmware   = "LATEST_FIRMWARE"
	PropCoordinates      = "COORDINATES"
	PropRecipientID      = "RECIPIENTID"
)

// Properties is an insertion-ordered string map in the java.util.Properties
// text format used on devices and in recording sidecars.
type Properties struct {
	keys   []string
	values map[string]string
}

// NewProperties returns an empty set.
func NewProperties() *Properties {
	return &Properties{values: make(map[string]string)}
}

// Set stores value under key, keeping the key's first position.
func (p *Properties) Set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key.
func (p *Properties) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[key]
	return v, ok
}

// Lookup returns the value for key unless it is missing, blank, or UNKNOWN.
func (p *Properties) Lookup(key string) (string, bool) {
	v, ok := p.Get(key)
	if !ok || strings.TrimSpace(v) == "" || strings.EqualFold(v, Unknown) {
		return "", false
	}
	return v, true
}

// Keys returns keys in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.keys...)
}

// Len reports the number of keys.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// ParseProperties reads the properties text format: "#" and "!" comments,
// "=", ":" or whitespace separators, backslash escapes and continuation lines.
func ParseProperties(r io.Reader) (*Properties, error) {
	props := NewProperties()
	scanner := bufio.NewScanner(r)
	var pending strings.Builder
	continuing := false
	for scanner.Scan() {
		line := scanner.Text()
		if !continuing {
			line = strings.TrimLeft(line, " \t\f")
			if line == "" || line[0] == '#' || line[0] == '!' {
				continue
			}
		} else {
			line = strings.TrimLeft(line, " \t\f")
		}
		if trailingBackslashes(line)%2 == 1 {
			pending.WriteString(line[:len(line)-1])
			continuing = true
			continue
		}
		pending.WriteString(line)
		continuing = false
		key, value := splitProperty(pending.String())
		pending.Reset()
		props.Set(unescape(key), unescape(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if continuing && pending.Len() > 0 {
		key, value := splitProperty(pending.String())
		props.Set(unescape(key), unescape(value))
	}
	return props, nil
}

func trailingBackslashes(s string) int {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n
}

func splitProperty(line string) (string, string) {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '=', ':':
			return line[:i], strings.TrimLeft(line[i+1:], " \t\f")
		case ' ', '\t', '\f':
			rest := strings.TrimLeft(line[i:], " \t\f")
			if rest != "" && (rest[0] == '=' || rest[0] == ':') {
				rest = strings.TrimLeft(rest[1:], " \t\f")
			}
			return line[:i], rest
		}
	}
	return line, ""
}

func unescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			if i+4 < len(s) {
				if r, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					b.WriteRune(rune(r))
					i += 4
					continue
				}
			}
			b.WriteByte('u')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func escape(s string, key bool) string {
	var b strings.Builder
	for i, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\f':
			b.WriteString(`\f`)
		case '=', ':', '#', '!':
			b.WriteByte('\\')
			b.WriteRune(r)
		case ' ':
			if key || i == 0 {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		default:
			if r > 0x7e || r < 0x20 {
				fmt.Fprintf(&b, `\u%04X`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// Write writes a "#comment" and "#date" header followed by key=value lines.
func (p *Properties) Write(w io.Writer, comment string, now time.Time) error {
	bw := bufio.NewWriter(w)
	if comment != "" {
		fmt.Fprintf(bw, "#%s\n", comment)
	}
	if !now.IsZero() {
		fmt.Fprintf(bw, "#%s\n", now.Format(time.UnixDate))
	}
	for _, k := range p.keys {
		fmt.Fprintf(bw, "%s=%s\n", escape(k, true), escape(p.values[k], false))
	}
	return bw.Flush()
}

// String renders the properties without a header.
func (p *Properties) String() string {
	var b strings.Builder
	_ = p.Write(&b, "", time.Time{})
	return b.String()
}
