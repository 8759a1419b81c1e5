// Command test-notify is a manual test for decoding and publishing.
// It connects a session to a simulated bike, feeds it the given status
// payloads and prints what was decoded. With --broker the readings are also
// published to MQTT, which is handy for checking dashboards.
//
// Usage:
//
//	go run ./cmd/test-notify [--config path] [--broker tcp://localhost:1883] 01024B01 0102280F
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/ble"
	"github.com/robplow/ebike-monitor/internal/config"
	"github.com/robplow/ebike-monitor/internal/mqtt"
	"github.com/robplow/ebike-monitor/internal/session"
)

const simulatedAddress = "AA:BB:CC:DD:EE:FF"

func main() {
	configPath := flag.String("config", "", "config file for patterns (default: bundled defaults)")
	broker := flag.String("broker", "", "MQTT broker to publish to")
	flag.Parse()

	payloads := flag.Args()
	if len(payloads) == 0 {
		payloads = []string{"01024B01"}
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	var observers []session.Observer
	if *broker != "" {
		pub, err := mqtt.NewRealPublisher(*broker, "ebike-monitor-test", mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.Bike.Name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "mqtt: %v\n", err)
			os.Exit(1)
		}
		defer pub.Close()
		observers = append(observers, mqtt.NewNotifier(pub))
		fmt.Printf("Publishing to %s\n", *broker)
	}

	adapter := ble.NewFakeAdapter()
	sess := session.New(adapter, session.Config{
		DeviceAddress:      simulatedAddress,
		DeviceName:         cfg.Bike.Name,
		ServiceUUID:        cfg.Bluetooth.Services.StatusServiceUUID,
		CharacteristicUUID: cfg.Bluetooth.Services.StatusCharacteristicUUID,
		Patterns:           cfg.Patterns(),
	}, session.Options{Observers: observers})
	defer sess.Close()

	if err := sess.ConnectToConfiguredBike(); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if !waitFor(sess, func(s session.Snapshot) bool { return s.State == bike.Connected }) {
		fmt.Fprintln(os.Stderr, "simulated bike never connected")
		os.Exit(1)
	}
	conn := adapter.LatestConnection()

	sent := 0
	for _, arg := range payloads {
		payload, err := hex.DecodeString(arg)
		if err != nil {
			fmt.Printf("skipping %q: %v\n", arg, err)
			continue
		}
		conn.Notify(payload)
		sent++
		waitFor(sess, func(s session.Snapshot) bool { return len(s.DataLog) >= sent })
	}

	snap := sess.Snapshot()
	for _, line := range snap.DataLog {
		fmt.Println(line)
	}
	if d, ok := snap.Data.Get(); ok {
		fmt.Printf("\nLatest: %s\n", bike.Summary(d))
	}
}

func waitFor(sess *session.Session, cond func(session.Snapshot) bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(sess.Snapshot()) {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
