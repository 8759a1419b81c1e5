// Package decode turns raw status-characteristic notifications into
// bike.Data using configurable byte-offset patterns.
//
// A pattern is an ordered list of byte offsets into the payload. The bytes it
// names are combined as an unsigned little-endian integer, first offset least
// significant, so a one-element pattern simply selects that byte. A field
// whose pattern cannot be satisfied by the payload is absent; decoding never
// fails.
package decode

import (
	"strings"

	"github.com/robplow/ebike-monitor/internal/bike"
)

const (
	// MaxBattery is the largest battery value accepted as a percentage.
	MaxBattery = 100
	// MaxAssist is the largest assist value passed through.
	MaxAssist = 255

	// MaxPatternLen bounds a pattern to what fits in a uint64.
	MaxPatternLen = 8
)

// Patterns selects which payload bytes carry each field.
type Patterns struct {
	Battery []int
	Assist  []int

	// Speed is optional; an empty window leaves speed undecoded.
	Speed []int
	// SpeedScale converts the raw speed value to km/h. Values <= 0 mean 1.
	SpeedScale float64
}

// Decode extracts battery, assist and speed from payload. It is pure: equal
// inputs produce equal results. Raw is always filled in.
func Decode(payload []byte, p Patterns) bike.Data {
	d := bike.Data{Raw: Hex(payload)}

	if v, ok := Extract(payload, p.Battery); ok && v <= MaxBattery {
		d.Battery = bike.Some(int(v))
	}
	if v, ok := Extract(payload, p.Assist); ok && v <= MaxAssist {
		d.Assist = bike.Some(int(v))
	}
	if v, ok := Extract(payload, p.Speed); ok {
		scale := p.SpeedScale
		if scale <= 0 {
			scale = 1
		}
		d.Speed = bike.Some(float64(v) * scale)
	}
	return d
}

// Extract reads the bytes named by offsets. It reports false if the pattern
// is empty, too long, or names a byte outside payload.
func Extract(payload []byte, offsets []int) (uint64, bool) {
	if len(offsets) == 0 || len(offsets) > MaxPatternLen {
		return 0, false
	}
	var v uint64
	for i, off := range offsets {
		if off < 0 || off >= len(payload) {
			return 0, false
		}
		v |= uint64(payload[off]) << (8 * i)
	}
	return v, true
}

const hexDigits = "0123456789ABCDEF"

// Hex renders payload as uppercase hex bytes separated by single spaces,
// e.g. "01 02 4B 01".
func Hex(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(payload)*3 - 1)
	for i, b := range payload {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[b>>4])
		sb.WriteByte(hexDigits[b&0x0f])
	}
	return sb.String()
}
