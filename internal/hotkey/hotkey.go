// Package hotkey provides a global hotkey listener using gohook.
// Each press of the combo toggles the bike connection: connect when idle,
// disconnect when scanning, connecting or connected.
package hotkey

import (
	"context"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/session"
)

// Action is what a press does in the current state.
type Action int

const (
	// ActionConnect connects to the configured bike.
	ActionConnect Action = iota
	// ActionDisconnect tears down the scan, attempt or link.
	ActionDisconnect
)

func (a Action) String() string {
	if a == ActionDisconnect {
		return "disconnect"
	}
	return "connect"
}

// ActionFor returns the action a press triggers in state.
func ActionFor(state bike.ConnectionState) Action {
	switch state {
	case bike.Disconnected, bike.Error:
		return ActionConnect
	default:
		return ActionDisconnect
	}
}

// Toggler is the part of *session.Session a press drives.
type Toggler interface {
	Snapshot() session.Snapshot
	ConnectToConfiguredBike() error
	Disconnect() error
}

// Toggle applies the action for the session's current state.
func Toggle(t Toggler) (Action, error) {
	action := ActionFor(t.Snapshot().State)
	if action == ActionConnect {
		return action, t.ConnectToConfiguredBike()
	}
	return action, t.Disconnect()
}

// Serve toggles t once per press until ctx is done or presses is closed.
func Serve(ctx context.Context, presses <-chan struct{}, t Toggler) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-presses:
			if !ok {
				return
			}
			action, err := Toggle(t)
			if err != nil {
				slog.Warn("[HOTKEY] toggle failed", "action", action, "error", err)
				continue
			}
			slog.Info("[HOTKEY] toggled", "action", action)
		}
	}
}

// Listener manages a global hotkey and emits one value per press.
type Listener struct {
	keys []string
	ch   chan struct{}
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for the given key combo.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "b"]).
func NewListener(keys []string) *Listener {
	return &Listener{
		keys: keys,
		ch:   make(chan struct{}, 4),
		done: make(chan struct{}),
	}
}

// Presses returns the channel that receives key presses.
// The channel is closed when the listener stops.
func (l *Listener) Presses() <-chan struct{} {
	return l.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(e hook.Event) {
		select {
		case l.ch <- struct{}{}:
		default: // drop presses while a toggle is still pending
		}
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
