package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/mqtt"
	"github.com/robplow/ebike-monitor/internal/session"
)

var now = time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

type fixedStatus session.Snapshot

func (f fixedStatus) Snapshot() session.Snapshot { return session.Snapshot(f) }

type fakePruner struct {
	cutoff time.Time
	calls  int
	n      int64
	err    error
}

func (f *fakePruner) PruneBefore(_ context.Context, t time.Time) (int64, error) {
	f.calls++
	f.cutoff = t
	return f.n, f.err
}

func TestNewRegistersJobs(t *testing.T) {
	full := Config{Heartbeat: "@every 15m", Prune: "@daily", Retention: 24 * time.Hour}

	tests := []struct {
		name      string
		cfg       Config
		publisher mqtt.Publisher
		pruner    Pruner
		want      int
	}{
		{"both", full, mqtt.NewFakePublisher(), &fakePruner{}, 2},
		{"no publisher", full, nil, &fakePruner{}, 1},
		{"no pruner", full, mqtt.NewFakePublisher(), nil, 1},
		{"retention disabled", Config{Heartbeat: "@every 15m", Prune: "@daily"}, mqtt.NewFakePublisher(), &fakePruner{}, 1},
		{"empty specs", Config{Retention: time.Hour}, mqtt.NewFakePublisher(), &fakePruner{}, 0},
		{"standard cron", Config{Prune: "30 3 * * *", Retention: time.Hour}, nil, &fakePruner{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, fixedStatus{}, tt.publisher, tt.pruner)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := s.Jobs(); got != tt.want {
				t.Errorf("Jobs() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"heartbeat", Config{Heartbeat: "every now and then"}},
		{"prune", Config{Prune: "@fortnightly", Retention: time.Hour}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, fixedStatus{}, mqtt.NewFakePublisher(), &fakePruner{}); err == nil {
				t.Error("expected error for malformed spec")
			}
		})
	}
}

func TestHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	status := fixedStatus{
		State:   bike.Connected,
		Address: "AA:BB:CC:DD:EE:FF",
		Data:    bike.Some(bike.Data{Battery: bike.Some(75), Raw: "4B"}),
	}
	s, err := New(Config{Heartbeat: "@every 15m"}, status, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return now }

	s.Heartbeat()

	events := pub.SystemEvents()
	if len(events) != 1 {
		t.Fatalf("got %d system events, want 1", len(events))
	}
	e := events[0]
	if e.Event != mqtt.EventHeartbeat || e.State != "Connected" || e.Address != "AA:BB:CC:DD:EE:FF" || !e.Timestamp.Equal(now) {
		t.Errorf("event = %+v", e)
	}
	if d, ok := e.Data.Get(); !ok || d.Battery.Or(-1) != 75 {
		t.Errorf("data = %+v", e.Data)
	}
}

func TestHeartbeatPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	s, err := New(Config{}, fixedStatus{}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Must only log.
	s.Heartbeat()
}

func TestPrune(t *testing.T) {
	p := &fakePruner{n: 3}
	s, err := New(Config{Prune: "@daily", Retention: 30 * 24 * time.Hour}, fixedStatus{}, nil, p)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return now }

	s.Prune(context.Background())

	if p.calls != 1 {
		t.Fatalf("PruneBefore called %d times", p.calls)
	}
	if want := now.Add(-30 * 24 * time.Hour); !p.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoff, want)
	}

	p.err = errors.New("locked")
	s.Prune(context.Background())
	if p.calls != 2 {
		t.Errorf("PruneBefore called %d times", p.calls)
	}
}

func TestStartStop(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	s, err := New(Config{Heartbeat: "@every 10ms"}, fixedStatus{}, pub, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	deadline := time.Now().Add(3 * time.Second)
	for len(pub.SystemEvents()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	if len(pub.SystemEvents()) == 0 {
		t.Error("heartbeat never ran")
	}
}
