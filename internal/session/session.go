// Package session owns the BLE connection to the e-bike: it drives the
// scan/connect/subscribe lifecycle through a ble.Adapter, decodes status
// notifications, and exposes the resulting state as immutable snapshots.
//
// All mutable state belongs to a single run-loop goroutine. Commands and
// transport callbacks reach it as messages on one inbox, so no two
// transitions ever interleave. Every scan or connect attempt is tagged with a
// generation number and events from superseded attempts are discarded.
package session

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/ble"
	"github.com/robplow/ebike-monitor/internal/decode"
)

var (
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("session: closed")
	// ErrInvalidState is returned when the current state forbids a command.
	ErrInvalidState = errors.New("session: command not allowed in current state")
	// ErrNoDeviceAddress means no bike address is configured.
	ErrNoDeviceAddress = errors.New("session: no device address configured")
	// ErrInvalidAddress means the device address is malformed.
	ErrInvalidAddress = errors.New("session: invalid device address")
	// ErrInvalidUUID means a service or characteristic UUID is malformed.
	ErrInvalidUUID = errors.New("session: invalid service or characteristic UUID")
	// ErrAdapterUnavailable means the Bluetooth adapter could not be enabled.
	ErrAdapterUnavailable = errors.New("session: bluetooth adapter unavailable")
	// ErrConnectTimeout is the cause recorded when connecting takes too long.
	ErrConnectTimeout = errors.New("session: connect timed out")
	// ErrLinkLost is the cause recorded when an established link drops.
	ErrLinkLost = errors.New("session: link lost")
)

// Config identifies the bike and how to read it.
type Config struct {
	DeviceAddress      string
	DeviceName         string
	ServiceUUID        string
	CharacteristicUUID string
	Patterns           decode.Patterns
}

// Options tunes session behavior.
type Options struct {
	ScanTimeout    time.Duration // how long a scan runs
	ConnectTimeout time.Duration // connect + discovery + subscribe budget
	LogSize        int           // max data log entries, oldest dropped first

	// Observers are notified of connection changes and decoded data, in
	// order, on a goroutine separate from the run loop.
	Observers []Observer

	// Now stamps decoded data. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:    15 * time.Second,
		ConnectTimeout: 10 * time.Second,
		LogSize:        100,
		Now:            time.Now,
	}
}

// Snapshot is a point-in-time view of the session.
// It is a value type; slices are copies owned by the caller.
type Snapshot struct {
	State bike.ConnectionState
	// Err is the cause of the Error state, nil otherwise.
	Err error
	// Address is the device being connected to or connected, if any.
	Address string
	// Data is the most recently decoded notification, kept after the link
	// goes down as the last known value.
	Data bike.Field[bike.Data]
	// ScanResults holds the devices seen by the latest scan, in order of
	// first sighting.
	ScanResults []ble.Device
	// DataLog holds formatted entries, oldest first.
	DataLog []string
	// Seq increases with every published change.
	Seq uint64
}

func (s Snapshot) clone() Snapshot {
	s.ScanResults = slices.Clone(s.ScanResults)
	s.DataLog = slices.Clone(s.DataLog)
	return s
}

// Session manages the connection to one configured bike.
type Session struct {
	adapter ble.Adapter
	cfg     Config
	opts    Options

	inbox     chan any
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	observers *dispatcher

	// mu guards the published snapshot and the subscriber set.
	mu     sync.RWMutex
	snap   Snapshot
	subs   map[chan Snapshot]struct{}
	closed bool

	lp loopState // owned by the run loop
}

// New creates a session and starts its run loop. Call Close when done.
func New(adapter ble.Adapter, cfg Config, opts Options) *Session {
	defaults := DefaultOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = defaults.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.LogSize <= 0 {
		opts.LogSize = defaults.LogSize
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}

	s := &Session{
		adapter:   adapter,
		cfg:       cfg,
		opts:      opts,
		inbox:     make(chan any, 64),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		observers: newDispatcher(opts.Observers, 64),
		subs:      make(map[chan Snapshot]struct{}),
	}
	go s.run()
	return s
}

// StartScan begins discovering nearby devices. Allowed only while
// Disconnected.
func (s *Session) StartScan() error {
	return s.do(command{kind: cmdStartScan})
}

// ConnectToConfiguredBike connects to the configured device address.
// Allowed while Disconnected or Error.
func (s *Session) ConnectToConfiguredBike() error {
	return s.do(command{kind: cmdConnect, address: s.cfg.DeviceAddress})
}

// ConnectToDevice connects to address. Allowed while Disconnected or Error,
// and while Scanning, where it stops the scan and selects that result.
func (s *Session) ConnectToDevice(address string) error {
	return s.do(command{kind: cmdConnectDevice, address: address})
}

// Disconnect cancels a scan or connect attempt, closes an established link,
// or clears an Error. It is a no-op while Disconnected.
func (s *Session) Disconnect() error {
	return s.do(command{kind: cmdDisconnect})
}

// ClearDataLog empties the data log. The current data is kept.
func (s *Session) ClearDataLog() error {
	return s.do(command{kind: cmdClearLog})
}

// ConfiguredAddress returns the configured bike's address.
func (s *Session) ConfiguredAddress() string { return s.cfg.DeviceAddress }

// ConfiguredName returns the configured bike's display name.
func (s *Session) ConfiguredName() string { return s.cfg.DeviceName }

// Snapshot returns the current state. Safe for concurrent use.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Subscribe returns a channel carrying snapshots as the session changes,
// starting with the current one. A slow reader only misses intermediate
// snapshots, never the latest. The channel is closed by cancel or Close.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ch <- s.snap.clone()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	ch <- s.snap.clone()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Close stops the run loop, tears down any link, closes subscriber channels
// and waits for pending observer notifications.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.stopped
		s.observers.close()
	})
	return nil
}

// do hands a command to the run loop and waits for its result.
func (s *Session) do(c command) error {
	c.reply = make(chan error, 1)
	select {
	case s.inbox <- c:
	case <-s.quit:
		return ErrClosed
	}
	select {
	case err := <-c.reply:
		return err
	case <-s.stopped:
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// post delivers a transport or timer event to the run loop.
func (s *Session) post(ev any) {
	select {
	case s.inbox <- ev:
	case <-s.quit:
	}
}

// publish stores a new snapshot and offers it to subscribers.
func (s *Session) publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	for ch := range s.subs {
		offer(ch, snap.clone())
	}
}

// closeSubscribers closes every subscriber channel; later Subscribe calls get
// a closed channel holding the final snapshot.
func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.closed = true
}

// offer replaces any unread snapshot in ch with snap.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
