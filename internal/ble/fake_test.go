package ble

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFakeAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*FakeAdapter)(nil)
	var _ Adapter = (*TinyGoAdapter)(nil)
}

func TestFakeConnectAndNotify(t *testing.T) {
	adapter := NewFakeAdapter()
	conn, err := adapter.Connect(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	char, err := conn.DiscoverCharacteristic("svc", "chr")
	if err != nil {
		t.Fatalf("DiscoverCharacteristic() error = %v", err)
	}

	got := make(chan []byte, 1)
	if err := char.Subscribe(func(b []byte) { got <- b }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	fc := adapter.LatestConnection()
	fc.Notify([]byte{1, 2, 3})
	select {
	case b := <-got:
		if len(b) != 3 {
			t.Errorf("payload = %x", b)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	if d := fc.Discovered(); len(d) != 1 || d[0] != "svc/chr" {
		t.Errorf("Discovered() = %v", d)
	}
}

func TestFakeLinkLossAndDisconnect(t *testing.T) {
	adapter := NewFakeAdapter()
	conn, _ := adapter.Connect(context.Background(), "AA:BB:CC:DD:EE:FF")

	lost := false
	conn.OnDisconnect(func() { lost = true })
	adapter.LatestConnection().SimulateLinkLoss()
	if !lost {
		t.Error("OnDisconnect callback not fired")
	}

	_ = conn.Disconnect()
	_ = conn.Disconnect()
	if !adapter.LatestConnection().Disconnected() {
		t.Error("Disconnected() = false after Disconnect")
	}
}

func TestFakeConnectErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFakeAdapter().Connect(ctx, "AA:BB:CC:DD:EE:FF"); !errors.Is(err, context.Canceled) {
		t.Errorf("Connect(cancelled) error = %v, want context.Canceled", err)
	}

	adapter := NewFakeAdapter()
	adapter.SubscribeError = errors.New("no notify permission")
	conn, err := adapter.Connect(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	char, _ := conn.DiscoverCharacteristic("svc", "chr")
	if err := char.Subscribe(func([]byte) {}); err == nil {
		t.Error("Subscribe() should fail")
	}
}

func TestFakeConnectGateIgnoresCancel(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.ConnectGate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := adapter.Connect(ctx, "AA:BB:CC:DD:EE:FF")
		done <- err
	}()
	cancel()
	close(adapter.ConnectGate)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("gated Connect() error = %v, want late success", err)
		}
	case <-time.After(time.Second):
		t.Fatal("gated Connect() never returned")
	}
	if got := adapter.ConnectAttempts(); len(got) != 1 {
		t.Errorf("ConnectAttempts() = %v", got)
	}
}

func TestFakeDiscoverGate(t *testing.T) {
	adapter := NewFakeAdapter()
	adapter.DiscoverGate = make(chan struct{})
	conn, err := adapter.Connect(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := conn.DiscoverCharacteristic("svc", "chr")
		done <- err
	}()

	fc := adapter.LatestConnection()
	deadline := time.Now().Add(time.Second)
	for len(fc.Discovered()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("lookup never recorded")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		t.Fatal("DiscoverCharacteristic returned before the gate opened")
	default:
	}

	close(adapter.DiscoverGate)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("DiscoverCharacteristic() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("DiscoverCharacteristic never returned")
	}
}
