// Package bike holds the e-bike data model shared by the decoder, the BLE
// session and its observers. Display formatting lives in format.go and is
// kept out of the data types.
package bike

import "time"

// Field is a decoded value that may be absent from a payload.
// The zero value is absent.
type Field[T comparable] struct {
	value T
	ok    bool
}

// Some returns a present Field holding v.
func Some[T comparable](v T) Field[T] {
	return Field[T]{value: v, ok: true}
}

// Get returns the value and whether it is present.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.ok
}

// Valid reports whether the field is present.
func (f Field[T]) Valid() bool {
	return f.ok
}

// Or returns the value, or def when the field is absent.
func (f Field[T]) Or(def T) T {
	if !f.ok {
		return def
	}
	return f.value
}

// Data is an immutable snapshot decoded from one status notification.
// Each notification produces a new Data; values are never updated in place.
type Data struct {
	Battery Field[int]     // percent, 0-100
	Assist  Field[int]     // raw assist level, 0-255
	Speed   Field[float64] // km/h
	Raw     string         // payload as space separated hex bytes

	// CapturedAt is zero when returned by the decoder; the session stamps it.
	CapturedAt time.Time
}

// WithCapturedAt returns a copy of d stamped with t.
func (d Data) WithCapturedAt(t time.Time) Data {
	d.CapturedAt = t
	return d
}

// ConnectionState is the phase of the BLE session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Scanning
	Connecting
	Connected
	Error
)

var stateNames = [...]string{
	Disconnected: "Disconnected",
	Scanning:     "Scanning",
	Connecting:   "Connecting",
	Connected:    "Connected",
	Error:        "Error",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name, so JSON payloads carry "Connected"
// rather than 3.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
