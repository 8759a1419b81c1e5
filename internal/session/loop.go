package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/ble"
	"github.com/robplow/ebike-monitor/internal/decode"
)

type commandKind int

const (
	cmdStartScan commandKind = iota
	cmdConnect
	cmdConnectDevice
	cmdDisconnect
	cmdClearLog
)

type command struct {
	kind    commandKind
	address string
	reply   chan error
}

// Transport and timer events. gen ties each one to the attempt that
// produced it.
type (
	scanFound struct {
		gen    uint64
		device ble.Device
	}
	scanEnded struct {
		gen uint64
		err error
	}
	scanTimeout struct {
		gen uint64
	}
	linkUp struct {
		gen     uint64
		address string
		conn    ble.Connection
	}
	connectFailed struct {
		gen uint64
		err error
	}
	connectTimeout struct {
		gen uint64
	}
	notification struct {
		gen     uint64
		payload []byte
	}
	linkLost struct {
		gen uint64
	}
)

// loopState is the session's mutable state. Only the run loop touches it.
type loopState struct {
	state   bike.ConnectionState
	err     error
	address string
	gen     uint64
	enabled bool

	cancel context.CancelFunc // pending scan or connect
	timer  *time.Timer        // pending scan or connect timeout
	conn   ble.Connection

	data bike.Field[bike.Data]
	scan ble.DeviceSet
	log  []string
	seq  uint64
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case msg := <-s.inbox:
			s.handle(msg)
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

func (s *Session) handle(msg any) {
	lp := &s.lp
	switch m := msg.(type) {
	case command:
		m.reply <- s.handleCommand(m)

	case scanFound:
		if m.gen != lp.gen || lp.state != bike.Scanning {
			return
		}
		lp.scan = lp.scan.Upsert(m.device)
		s.changed()

	case scanEnded:
		if m.gen != lp.gen || lp.state != bike.Scanning {
			return
		}
		s.endAttempt()
		if m.err != nil {
			slog.Warn("[SESSION] scan failed", "error", m.err)
			s.setState(bike.Error, fmt.Errorf("scan: %w", m.err))
			return
		}
		s.setState(bike.Disconnected, nil)

	case scanTimeout:
		if m.gen != lp.gen || lp.state != bike.Scanning {
			return
		}
		s.endAttempt()
		slog.Info("[SESSION] scan finished", "devices", len(lp.scan))
		s.setState(bike.Disconnected, nil)

	case linkUp:
		if m.gen != lp.gen || lp.state != bike.Connecting {
			slog.Info("[SESSION] discarding late connection", "address", m.address)
			go disconnect(m.conn)
			return
		}
		// The generation stays: notifications and link loss from this
		// connection carry it.
		s.stopPending()
		lp.conn = m.conn
		s.setState(bike.Connected, nil)
		address := lp.address
		s.observers.notify(func(o Observer) { o.ConnectionEstablished(address) })

	case connectFailed:
		if m.gen != lp.gen || lp.state != bike.Connecting {
			return
		}
		s.endAttempt()
		slog.Warn("[SESSION] connect failed", "address", lp.address, "error", m.err)
		s.setState(bike.Error, m.err)

	case connectTimeout:
		if m.gen != lp.gen || lp.state != bike.Connecting {
			return
		}
		s.endAttempt()
		slog.Warn("[SESSION] connect timed out", "address", lp.address, "timeout", s.opts.ConnectTimeout)
		s.setState(bike.Error, ErrConnectTimeout)

	case notification:
		if m.gen != lp.gen || lp.state != bike.Connected {
			return
		}
		s.receive(m.payload)

	case linkLost:
		if m.gen != lp.gen {
			return
		}
		if lp.state == bike.Connecting {
			// Dropped before discovery finished; the linkUp still on its
			// way is now stale and gets torn down.
			s.endAttempt()
			slog.Warn("[SESSION] link lost while connecting", "address", lp.address)
			s.setState(bike.Error, ErrLinkLost)
			return
		}
		if lp.state != bike.Connected {
			return
		}
		conn, address := lp.conn, lp.address
		lp.conn = nil
		s.endAttempt()
		go disconnect(conn)
		slog.Warn("[SESSION] link lost", "address", address)
		s.setState(bike.Error, ErrLinkLost)
		s.observers.notify(func(o Observer) { o.ConnectionLost(address, ErrLinkLost) })
	}
}

func (s *Session) handleCommand(c command) error {
	switch c.kind {
	case cmdStartScan:
		return s.startScan()
	case cmdConnect:
		return s.connect(c.address, false)
	case cmdConnectDevice:
		return s.connect(c.address, true)
	case cmdDisconnect:
		s.disconnect()
		return nil
	case cmdClearLog:
		s.lp.log = nil
		s.changed()
		return nil
	}
	return fmt.Errorf("session: unknown command %d", c.kind)
}

func (s *Session) startScan() error {
	lp := &s.lp
	if lp.state != bike.Disconnected {
		return fmt.Errorf("%w: cannot scan while %s", ErrInvalidState, lp.state)
	}
	if err := s.enable(); err != nil {
		return err
	}

	gen := s.nextAttempt()
	ctx, cancel := context.WithCancel(context.Background())
	lp.cancel = cancel
	lp.scan = nil
	go func() {
		err := s.adapter.Scan(ctx, "", func(d ble.Device) {
			s.post(scanFound{gen: gen, device: d})
		})
		s.post(scanEnded{gen: gen, err: err})
	}()
	lp.timer = time.AfterFunc(s.opts.ScanTimeout, func() {
		s.post(scanTimeout{gen: gen})
	})

	slog.Info("[SESSION] scanning", "timeout", s.opts.ScanTimeout)
	s.setState(bike.Scanning, nil)
	return nil
}

// connect starts a connection attempt. selection marks a user picking a
// scan result, which is the one case allowed while Scanning.
func (s *Session) connect(address string, selection bool) error {
	lp := &s.lp
	switch {
	case lp.state == bike.Disconnected, lp.state == bike.Error:
	case lp.state == bike.Scanning && selection:
	default:
		return fmt.Errorf("%w: cannot connect while %s", ErrInvalidState, lp.state)
	}

	if address == "" {
		return ErrNoDeviceAddress
	}
	if err := ble.ValidateAddress(address); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	for _, uuid := range []string{s.cfg.ServiceUUID, s.cfg.CharacteristicUUID} {
		if err := ble.ValidateUUID(uuid); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidUUID, err)
		}
	}
	if err := s.enable(); err != nil {
		return err
	}

	s.endAttempt() // stops a scan being replaced by this selection
	gen := s.nextAttempt()
	ctx, cancel := context.WithCancel(context.Background())
	lp.cancel = cancel
	lp.address = address
	go s.establish(ctx, gen, address)
	lp.timer = time.AfterFunc(s.opts.ConnectTimeout, func() {
		s.post(connectTimeout{gen: gen})
	})

	slog.Info("[SESSION] connecting", "address", address)
	s.setState(bike.Connecting, nil)
	return nil
}

// establish connects, finds the status characteristic and subscribes to it,
// reporting the outcome to the run loop. It runs on its own goroutine.
func (s *Session) establish(ctx context.Context, gen uint64, address string) {
	conn, err := s.adapter.Connect(ctx, address)
	if err != nil {
		s.post(connectFailed{gen: gen, err: err})
		return
	}
	conn.OnDisconnect(func() {
		s.post(linkLost{gen: gen})
	})

	char, err := conn.DiscoverCharacteristic(s.cfg.ServiceUUID, s.cfg.CharacteristicUUID)
	if err != nil {
		disconnect(conn)
		s.post(connectFailed{gen: gen, err: fmt.Errorf("discover status characteristic: %w", err)})
		return
	}

	err = char.Subscribe(func(payload []byte) {
		s.post(notification{gen: gen, payload: append([]byte(nil), payload...)})
	})
	if err != nil {
		disconnect(conn)
		s.post(connectFailed{gen: gen, err: fmt.Errorf("subscribe to status notifications: %w", err)})
		return
	}

	s.post(linkUp{gen: gen, address: address, conn: conn})
}

func (s *Session) disconnect() {
	lp := &s.lp
	switch lp.state {
	case bike.Disconnected:
		return
	case bike.Connected:
		conn, address := lp.conn, lp.address
		lp.conn = nil
		go disconnect(conn)
		s.observers.notify(func(o Observer) { o.ConnectionLost(address, nil) })
	}
	s.endAttempt()
	slog.Info("[SESSION] disconnected", "from", lp.state)
	s.setState(bike.Disconnected, nil)
}

// receive decodes one notification into the current data and the log.
func (s *Session) receive(payload []byte) {
	lp := &s.lp
	data := decode.Decode(payload, s.cfg.Patterns).WithCapturedAt(s.opts.Now())
	lp.data = bike.Some(data)

	if len(lp.log) >= s.opts.LogSize {
		// Drop oldest
		lp.log = lp.log[len(lp.log)-s.opts.LogSize+1:]
	}
	lp.log = append(lp.log, bike.LogLine(data))

	slog.Debug("[SESSION] notification", "raw", data.Raw)
	s.changed()
	s.observers.notify(func(o Observer) { o.DataReceived(data) })
}

func (s *Session) enable() error {
	if s.lp.enabled {
		return nil
	}
	if err := s.adapter.Enable(); err != nil {
		slog.Error("[SESSION] enable adapter", "error", err)
		return fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}
	s.lp.enabled = true
	return nil
}

// nextAttempt invalidates every event from earlier attempts.
func (s *Session) nextAttempt() uint64 {
	s.lp.gen++
	return s.lp.gen
}

// stopPending stops the attempt's timer and releases its context.
func (s *Session) stopPending() {
	lp := &s.lp
	if lp.timer != nil {
		lp.timer.Stop()
		lp.timer = nil
	}
	if lp.cancel != nil {
		lp.cancel()
		lp.cancel = nil
	}
}

// endAttempt cancels the pending scan or connect and its timer, and makes
// any event still in flight from it stale.
func (s *Session) endAttempt() {
	s.stopPending()
	s.lp.gen++
}

func (s *Session) setState(state bike.ConnectionState, err error) {
	lp := &s.lp
	if lp.state != state {
		slog.Info("[SESSION] state changed", "from", lp.state, "to", state)
	}
	lp.state = state
	lp.err = err
	if state == bike.Disconnected || state == bike.Scanning {
		lp.address = ""
	}
	s.changed()
}

// changed publishes the loop state as a new snapshot.
func (s *Session) changed() {
	lp := &s.lp
	lp.seq++
	s.publish(Snapshot{
		State:       lp.state,
		Err:         lp.err,
		Address:     lp.address,
		Data:        lp.data,
		ScanResults: lp.scan,
		DataLog:     lp.log,
		Seq:         lp.seq,
	})
}

func (s *Session) shutdown() {
	lp := &s.lp
	if lp.state == bike.Connected {
		conn, address := lp.conn, lp.address
		lp.conn = nil
		disconnect(conn)
		s.observers.notify(func(o Observer) { o.ConnectionLost(address, nil) })
	}
	s.endAttempt()
	if lp.state != bike.Disconnected {
		s.setState(bike.Disconnected, nil)
	}
	s.closeSubscribers()
}

func disconnect(conn ble.Connection) {
	if err := conn.Disconnect(); err != nil {
		slog.Warn("[SESSION] disconnect", "error", err)
	}
}
