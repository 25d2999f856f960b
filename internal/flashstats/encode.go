package flashstats

import (
	"bytes"
	"encoding/binary"
)

// Encode renders s in the on-device layout. Message slots beyond
// s.TotalMessages are zero filled. It exists for fixtures and for tools that
// fabricate blobs; devices never read a blob written by this package.
func Encode(s *Stats) []byte {
	var b bytes.Buffer
	pad := func() { b.Write([]byte{0, 0}) }
	i16 := func(v int16) { _ = binary.Write(&b, binary.LittleEndian, v) }
	str := func(v string, n int) {
		for i := 0; i < n; i++ {
			var c byte
			if i < len(v) {
				c = v[i]
			}
			b.Write([]byte{c, 0})
		}
	}

	pad()
	i16(s.Reflashes)
	str(s.Serial, serialChars)
	str(s.Deployment, deploymentChars)
	str(s.Community, communityChars)
	str(s.Image, imageChars)
	i16(s.Day)
	i16(s.Month)
	i16(s.Year)

	pad()
	i16(s.Periods)
	i16(s.CumulativeDays)
	i16(s.CorruptionDay)
	i16(s.Powerups)
	i16(s.LastInitVoltage)
	for _, r := range s.Rotations {
		pad()
		i16(r.Number)
		i16(r.StartingPeriod)
		i16(r.HoursAfterUpdate)
		i16(r.InitVoltage)
	}

	pad()
	i16(s.TotalMessages)
	for i := 0; i < MaxMessages; i++ {
		var id string
		if i < len(s.MessageIDs) {
			id = s.MessageIDs[i]
		}
		str(id, messageIDChars)
	}

	pad()
	i16(s.ProfileOrder)
	str(s.ProfileName, profileChars)
	i16(s.ProfileTotalMessages)
	i16(s.ProfileTotalRotations)

	for m := 0; m < int(s.TotalMessages); m++ {
		var row [Rotations]MessageStats
		if m < len(s.Messages) {
			row = s.Messages[m]
		}
		for _, ms := range row {
			pad()
			i16(ms.Index)
			i16(ms.Profile)
			i16(ms.Rotation)
			i16(ms.Started)
			i16(ms.Quarter)
			i16(ms.Half)
			i16(ms.ThreeQuarters)
			i16(ms.Completed)
			i16(ms.Applied)
			i16(ms.Useless)
			_ = binary.Write(&b, binary.LittleEndian, ms.Seconds)
		}
	}
	return b.Bytes()
}
