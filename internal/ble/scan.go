package ble

import (
	"context"
	"fmt"
	"time"
)

// ScanForDevices enables the adapter and scans for timeout, returning each
// advertiser once in order of first sighting. Repeated advertisements update
// the RSSI, and fill in a name that was missing from earlier ones.
// An empty serviceUUID reports every advertiser.
func ScanForDevices(adapter Adapter, serviceUUID string, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var set DeviceSet
	found := make(chan Device)
	errCh := make(chan error, 1)
	go func() {
		errCh <- adapter.Scan(ctx, serviceUUID, func(d Device) {
			select {
			case found <- d:
			case <-ctx.Done():
			}
		})
	}()

	for {
		select {
		case d := <-found:
			set = set.Upsert(d)
		case err := <-errCh:
			if err != nil {
				return nil, fmt.Errorf("ble: scan: %w", err)
			}
			return set, nil
		}
	}
}

// DeviceSet is an ordered collection of scan results keyed by address.
type DeviceSet []Device

// Upsert returns the set with d added, or with the RSSI (and a missing name)
// of the existing entry for d's address updated. The receiver's backing
// array is never modified, so earlier copies stay valid.
func (s DeviceSet) Upsert(d Device) DeviceSet {
	key := NormalizeAddress(d.Address)
	for i := range s {
		if NormalizeAddress(s[i].Address) != key {
			continue
		}
		out := append(DeviceSet(nil), s...)
		out[i].RSSI = d.RSSI
		if out[i].Name == "" {
			out[i].Name = d.Name
		}
		return out
	}
	out := make(DeviceSet, len(s), len(s)+1)
	copy(out, s)
	return append(out, d)
}
