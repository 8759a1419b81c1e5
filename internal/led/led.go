// Package led drives a status LED from session snapshots: steady while
// connected, blinking while scanning or connecting, off otherwise.
// The GPIO implementation uses the Linux GPIO character device; the fake
// allows testing without hardware.
package led

import (
	"context"
	"log/slog"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/session"
)

// DefaultBlinkPeriod is the on/off half-cycle while blinking.
const DefaultBlinkPeriod = 500 * time.Millisecond

// Indicator is a single on/off light.
type Indicator interface {
	Set(on bool) error
	Close() error
}

// Mode is what the LED shows.
type Mode int

const (
	Off Mode = iota
	On
	Blink
)

func (m Mode) String() string {
	switch m {
	case On:
		return "on"
	case Blink:
		return "blink"
	default:
		return "off"
	}
}

// ModeFor maps a connection state to an LED mode.
func ModeFor(state bike.ConnectionState) Mode {
	switch state {
	case bike.Connected:
		return On
	case bike.Scanning, bike.Connecting:
		return Blink
	default:
		return Off
	}
}

// Follow shows each snapshot's state on ind until ctx is done or snaps is
// closed, then turns the LED off.
func Follow(ctx context.Context, ind Indicator, snaps <-chan session.Snapshot, blinkPeriod time.Duration) {
	if blinkPeriod <= 0 {
		blinkPeriod = DefaultBlinkPeriod
	}

	var (
		mode   = Off
		lit    bool
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	set := func(on bool) {
		lit = on
		if err := ind.Set(on); err != nil {
			slog.Warn("[LED] set failed", "on", on, "error", err)
		}
	}
	stopBlink := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer func() {
		stopBlink()
		set(false)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-snaps:
			if !ok {
				return
			}
			next := ModeFor(snap.State)
			if next == mode {
				continue
			}
			slog.Debug("[LED] mode changed", "from", mode, "to", next)
			mode = next
			stopBlink()
			switch mode {
			case On:
				set(true)
			case Blink:
				set(true)
				ticker = time.NewTicker(blinkPeriod)
				tick = ticker.C
			default:
				set(false)
			}

		case <-tick:
			set(!lit)
		}
	}
}
