// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press the combo to see the connect/disconnect toggle it
// would send. No Bluetooth is used; the state flips on each press.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--keys ctrl+shift+b]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/hotkey"
)

func main() {
	combo := flag.String("keys", "ctrl+shift+b", "key combo, joined with +")
	flag.Parse()

	keys := strings.Split(*combo, "+")
	fmt.Printf("Listening for %s...\n", *combo)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(keys)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read presses
	go func() {
		state := bike.Disconnected
		for range listener.Presses() {
			action := hotkey.ActionFor(state)
			fmt.Printf(">>> %s (was %s)\n", action, state)
			if action == hotkey.ActionConnect {
				state = bike.Connected
			} else {
				state = bike.Disconnected
			}
		}
		fmt.Println("Press channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
