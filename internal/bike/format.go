package bike

import (
	"fmt"
	"strconv"
	"strings"
)

// Unknown is shown for fields a payload did not carry.
const Unknown = "Unknown"

var assistNames = [...]string{"Off", "Eco", "Tour", "Sport", "Turbo"}

// AssistModeName returns the display name of an assist level. Levels 0-4
// have canonical names; anything else is rendered as its number.
func AssistModeName(mode int) string {
	if mode >= 0 && mode < len(assistNames) {
		return assistNames[mode]
	}
	return strconv.Itoa(mode)
}

// AssistText formats the assist field of d.
func AssistText(d Data) string {
	mode, ok := d.Assist.Get()
	if !ok {
		return Unknown
	}
	return AssistModeName(mode)
}

// BatteryText formats the battery field of d, e.g. "75%".
func BatteryText(d Data) string {
	level, ok := d.Battery.Get()
	if !ok {
		return Unknown
	}
	return strconv.Itoa(level) + "%"
}

// SpeedText formats the speed field of d, e.g. "23.4 km/h".
func SpeedText(d Data) string {
	speed, ok := d.Speed.Get()
	if !ok {
		return Unknown
	}
	return fmt.Sprintf("%.1f km/h", speed)
}

// LogLine renders d as one data log entry:
//
//	15:04:05.000 battery=75% assist=Eco speed=Unknown raw=[01 02 4B 01]
func LogLine(d Data) string {
	return fmt.Sprintf("%s battery=%s assist=%s speed=%s raw=[%s]",
		d.CapturedAt.Format("15:04:05.000"),
		BatteryText(d), AssistText(d), SpeedText(d), d.Raw)
}

// Summary renders only the fields d carries, for short status messages.
// It returns "" when nothing was decoded.
func Summary(d Data) string {
	var parts []string
	if d.Battery.Valid() {
		parts = append(parts, "Battery "+BatteryText(d))
	}
	if d.Assist.Valid() {
		parts = append(parts, "Assist "+AssistText(d))
	}
	if d.Speed.Valid() {
		parts = append(parts, "Speed "+SpeedText(d))
	}
	return strings.Join(parts, ", ")
}
