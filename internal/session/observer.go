package session

import (
	"log/slog"
	"sync"

	"github.com/robplow/ebike-monitor/internal/bike"
)

// Observer receives session events. Calls arrive in event order on a single
// goroutine that is not the run loop, so an observer may call back into the
// session. A slow observer delays the others but never the session.
type Observer interface {
	ConnectionEstablished(address string)
	// ConnectionLost reports an established link going down. cause is nil
	// for a requested disconnect.
	ConnectionLost(address string, cause error)
	DataReceived(data bike.Data)
}

// dispatcher delivers observer calls in order on its own goroutine.
type dispatcher struct {
	observers []Observer
	queue     chan func(Observer)
	done      chan struct{}
	once      sync.Once
}

func newDispatcher(observers []Observer, size int) *dispatcher {
	d := &dispatcher{
		observers: observers,
		queue:     make(chan func(Observer), size),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for call := range d.queue {
		for _, o := range d.observers {
			call(o)
		}
	}
}

// notify queues call for every observer. It never blocks: when observers
// fall too far behind the event is dropped.
func (d *dispatcher) notify(call func(Observer)) {
	if len(d.observers) == 0 {
		return
	}
	select {
	case d.queue <- call:
	default:
		slog.Warn("[SESSION] observers falling behind, event dropped")
	}
}

// close drains queued calls and stops the goroutine. notify must not be
// called afterwards.
func (d *dispatcher) close() {
	d.once.Do(func() {
		close(d.queue)
		<-d.done
	})
}
