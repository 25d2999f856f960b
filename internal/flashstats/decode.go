package flashstats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"tbloader/internal/services"
)

const (
	serialChars     = 12
	deploymentChars = 20
	communityChars  = 40
	imageChars      = 20
	messageIDChars  = 20
	profileChars    = 20
)

// DecodeBytes decodes an in-memory blob.
func DecodeBytes(b []byte) (*Stats, error) {
	return Decode(bytes.NewReader(b))
}

// Decode reads one blob from r. Any short read, and a message count outside
// 0..MaxMessages, yields services.ErrCorruptFlashData; no partially populated
// Stats is ever returned.
func Decode(r io.Reader) (*Stats, error) {
	d := &decoder{r: r}
	s := &Stats{}

	d.skip(2)
	s.Reflashes = d.int16()
	s.Serial = d.str(serialChars)
	s.Deployment = d.str(deploymentChars)
	s.Community = d.str(communityChars)
	s.Image = d.str(imageChars)
	s.Day = d.int16()
	s.Month = d.int16()
	s.Year = d.int16()

	d.skip(2)
	s.Periods = d.int16()
	s.CumulativeDays = d.int16()
	s.CorruptionDay = d.int16()
	s.Powerups = d.int16()
	s.LastInitVoltage = d.int16()
	for i := range s.Rotations {
		d.skip(2)
		s.Rotations[i] = Rotation{
			Number:           d.int16(),
			StartingPeriod:   d.int16(),
			HoursAfterUpdate: d.int16(),
			InitVoltage:      d.int16(),
		}
	}

	d.skip(2)
	s.TotalMessages = d.int16()
	if d.err == nil && (s.TotalMessages < 0 || s.TotalMessages > MaxMessages) {
		return nil, services.Wrap(services.ErrCorruptFlashData, "flashstats", "decode",
			fmt.Sprintf("message count %d out of range at offset %d", s.TotalMessages, d.off-2), nil)
	}
	count := int(max(s.TotalMessages, 0))
	s.MessageIDs = make([]string, 0, count)
	for i := 0; i < MaxMessages; i++ {
		if i < count {
			s.MessageIDs = append(s.MessageIDs, d.str(messageIDChars))
		} else {
			d.skip(2 * messageIDChars)
		}
	}

	d.skip(2)
	s.ProfileOrder = d.int16()
	s.ProfileName = d.str(profileChars)
	s.ProfileTotalMessages = d.int16()
	s.ProfileTotalRotations = d.int16()

	s.Messages = make([][Rotations]MessageStats, count)
	for m := 0; m < count; m++ {
		for rot := 0; rot < Rotations; rot++ {
			d.skip(2)
			s.Messages[m][rot] = MessageStats{
				Index:         d.int16(),
				Profile:       d.int16(),
				Rotation:      d.int16(),
				Started:       d.int16(),
				Quarter:       d.int16(),
				Half:          d.int16(),
				ThreeQuarters: d.int16(),
				Completed:     d.int16(),
				Applied:       d.int16(),
				Useless:       d.int16(),
				Seconds:       d.uint16(),
			}
		}
	}

	if d.err != nil {
		return nil, services.Wrap(services.ErrCorruptFlashData, "flashstats", "decode",
			fmt.Sprintf("short read at offset %d", d.off), d.err)
	}
	return s, nil
}

// decoder remembers the first error; later reads become no-ops.
type decoder struct {
	r   io.Reader
	off int64
	err error
	buf [2 * communityChars]byte
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := d.buf[:n]
	got, err := io.ReadFull(d.r, b)
	d.off += int64(got)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		d.err = err
		return nil
	}
	return b
}

func (d *decoder) skip(n int) {
	for n > 0 && d.err == nil {
		chunk := min(n, len(d.buf))
		d.read(chunk)
		n -= chunk
	}
}

func (d *decoder) uint16() uint16 {
	b := d.read(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) int16() int16 {
	return int16(d.uint16())
}

// str reads n 16-bit units; the low byte of each is one character and the
// string ends at the first zero.
func (d *decoder) str(n int) string {
	b := d.read(2 * n)
	if b == nil {
		return ""
	}
	out := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		c := b[2*i]
		if c == 0 {
			break
		}
		out = append(out, c)
	}
	return string(bytes.TrimSpace(out))
}
