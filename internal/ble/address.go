package ble

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"
)

// ValidateAddress checks that address is usable as a device address: a MAC
// such as "AA:BB:CC:DD:EE:FF" (BlueZ, Windows) or a CoreBluetooth peripheral
// UUID (macOS).
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("ble: empty device address")
	}
	if macShaped(address) {
		if _, err := bluetooth.ParseMAC(NormalizeAddress(address)); err == nil {
			return nil
		}
	}
	if uuidShaped(address) {
		if _, err := bluetooth.ParseUUID(address); err == nil {
			return nil
		}
	}
	return fmt.Errorf("ble: invalid device address %q", address)
}

// ValidateUUID checks that s is a 128-bit UUID in canonical form.
// Short 16- and 32-bit forms are rejected.
func ValidateUUID(s string) error {
	if !uuidShaped(s) {
		return fmt.Errorf("ble: invalid UUID %q: want 8-4-4-4-12 hex digits", s)
	}
	if _, err := bluetooth.ParseUUID(s); err != nil {
		return fmt.Errorf("ble: invalid UUID %q: %w", s, err)
	}
	return nil
}

// NormalizeAddress canonicalizes an address for comparisons and map keys:
// upper case, with MAC groups separated by ':'.
func NormalizeAddress(address string) string {
	if macShaped(address) {
		address = strings.ReplaceAll(address, "-", ":")
	}
	return strings.ToUpper(address)
}

// macShaped reports whether s has six two-character groups separated by
// ':' or '-'.
func macShaped(s string) bool {
	if len(s) != 17 {
		return false
	}
	for i := 2; i < len(s); i += 3 {
		if s[i] != ':' && s[i] != '-' {
			return false
		}
	}
	return true
}

// uuidShaped reports whether s is 36 hex digits and dashes laid out as
// 8-4-4-4-12.
func uuidShaped(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
				return false
			}
		}
	}
	return true
}
