package oplog

import (
	"fmt"
	"strconv"
	"strings"
)

// Payload is an ordered set of key/value pairs. Putting an existing key
// replaces its value and keeps its position.
type Payload struct {
	keys   []string
	values map[string]string
}

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return &Payload{values: make(map[string]string)}
}

// Put stores value under key, formatted with fmt for non-string values.
func (p *Payload) Put(key string, value any) *Payload {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case bool:
		s = strconv.FormatBool(v)
	case int:
		s = strconv.Itoa(v)
	case int16:
		s = strconv.Itoa(int(v))
	case int64:
		s = strconv.FormatInt(v, 10)
	case nil:
		s = ""
	default:
		s = fmt.Sprint(v)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = s
	return p
}

// Merge puts every pair of other, in order.
func (p *Payload) Merge(other *Payload) *Payload {
	if other == nil {
		return p
	}
	for _, k := range other.keys {
		p.Put(k, other.values[k])
	}
	return p
}

// Get returns the value of key.
func (p *Payload) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (p *Payload) Keys() []string {
	return append([]string(nil), p.keys...)
}

// Len is the number of pairs.
func (p *Payload) Len() int { return len(p.keys) }

// Map copies the pairs into a map.
func (p *Payload) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

var newlines = strings.NewReplacer("\r\n", "↵", "\n", "↵", "\r", "↵")

// Format renders the pairs as key=value lines. Newlines inside values
// become "↵".
func (p *Payload) Format() string {
	var b strings.Builder
	for _, k := range p.keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(newlines.Replace(p.values[k]))
		b.WriteByte('\n')
	}
	return b.String()
}
