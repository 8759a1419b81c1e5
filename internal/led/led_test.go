package led

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/session"
)

func TestModeFor(t *testing.T) {
	tests := []struct {
		state bike.ConnectionState
		want  Mode
	}{
		{bike.Disconnected, Off},
		{bike.Scanning, Blink},
		{bike.Connecting, Blink},
		{bike.Connected, On},
		{bike.Error, Off},
	}

	for _, tt := range tests {
		if got := ModeFor(tt.state); got != tt.want {
			t.Errorf("ModeFor(%v) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestFollowSteadyAndOff(t *testing.T) {
	ind := NewFakeIndicator()
	snaps := make(chan session.Snapshot)
	done := make(chan struct{})
	go func() {
		Follow(context.Background(), ind, snaps, time.Hour)
		close(done)
	}()

	snaps <- session.Snapshot{State: bike.Connected}
	eventually(t, ind.Lit, "LED not lit while connected")

	// Same mode again must not touch the line.
	snaps <- session.Snapshot{State: bike.Connected, Seq: 2}
	snaps <- session.Snapshot{State: bike.Error}
	eventually(t, func() bool { return !ind.Lit() }, "LED lit in Error")

	close(snaps)
	<-done

	got := ind.Values()
	want := []bool{true, false, false}
	if len(got) != len(want) {
		t.Fatalf("values = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("values = %v, want %v", got, want)
			break
		}
	}
}

func TestFollowBlinks(t *testing.T) {
	ind := NewFakeIndicator()
	snaps := make(chan session.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Follow(ctx, ind, snaps, 5*time.Millisecond)
		close(done)
	}()

	snaps <- session.Snapshot{State: bike.Scanning}
	eventually(t, func() bool { return len(ind.Values()) >= 4 }, "LED did not blink")

	vals := ind.Values()
	for i := 1; i < 4; i++ {
		if vals[i] == vals[i-1] {
			t.Fatalf("blink values do not alternate: %v", vals)
		}
	}

	cancel()
	<-done
	if ind.Lit() {
		t.Error("LED left lit after Follow returned")
	}
}

func TestFollowSurvivesSetErrors(t *testing.T) {
	ind := NewFakeIndicator()
	ind.SetError = errors.New("line busy")
	snaps := make(chan session.Snapshot, 1)
	snaps <- session.Snapshot{State: bike.Connected}
	close(snaps)

	Follow(context.Background(), ind, snaps, 0)

	if got := ind.Values(); len(got) != 2 {
		t.Errorf("values = %v, want on then off", got)
	}
}

func TestFakeIndicatorClose(t *testing.T) {
	ind := NewFakeIndicator()
	if ind.Closed() {
		t.Error("should not be closed initially")
	}
	if err := ind.Close(); err != nil {
		t.Fatal(err)
	}
	if !ind.Closed() {
		t.Error("should be closed after Close()")
	}
}
