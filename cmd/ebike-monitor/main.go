package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robplow/ebike-monitor/internal/ble"
	"github.com/robplow/ebike-monitor/internal/config"
	"github.com/robplow/ebike-monitor/internal/hotkey"
	"github.com/robplow/ebike-monitor/internal/led"
	"github.com/robplow/ebike-monitor/internal/mqtt"
	"github.com/robplow/ebike-monitor/internal/schedule"
	"github.com/robplow/ebike-monitor/internal/session"
	"github.com/robplow/ebike-monitor/internal/storage"
	"github.com/robplow/ebike-monitor/internal/web"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/ebike-monitor/bike_config.yaml)")
	writeConfig := flag.Bool("write-config", false, "write a commented default config and exit")
	scanOnly := flag.Bool("scan", false, "scan for nearby devices, print them and exit")
	connect := flag.Bool("connect", false, "connect to the configured bike on startup")
	httpAddr := flag.String("http", "", "HTTP listen address (overrides http.addr)")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fatal("write config", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Default config written to %s\n", path)
		return
	}

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Info("[CONFIG] loaded", "source", source)

	adapter := ble.NewTinyGoAdapter()

	if *scanOnly {
		runScan(adapter, cfg)
		return
	}

	printBanner(cfg)

	// Observers
	var (
		observers []session.Observer
		publisher mqtt.Publisher
		history   *storage.History
		db        *storage.DB
	)
	if cfg.MQTT.Broker != "" {
		pub, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, mqtt.NewTopics(cfg.MQTT.TopicPrefix, cfg.Bike.Name))
		if err != nil {
			slog.Warn("[MQTT] disabled, broker unreachable", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			publisher = pub
			observers = append(observers, mqtt.NewNotifier(pub))
		}
	}
	if cfg.Storage.Path != "" {
		db, err = storage.NewDB(cfg.Storage.Path)
		if err != nil {
			fatal("open storage", err)
		}
		history = storage.NewHistory(db)
		observers = append(observers, storage.NewRecorder(history))
		slog.Info("[STORAGE] ready", "path", db.Path())
	}

	sess := session.New(adapter, session.Config{
		DeviceAddress:      cfg.Bike.MACAddress,
		DeviceName:         cfg.Bike.Name,
		ServiceUUID:        cfg.Bluetooth.Services.StatusServiceUUID,
		CharacteristicUUID: cfg.Bluetooth.Services.StatusCharacteristicUUID,
		Patterns:           cfg.Patterns(),
	}, session.Options{
		ScanTimeout:    cfg.ScanTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		LogSize:        cfg.DataLog.MaxEntries,
		Observers:      observers,
	})

	publishSystem(publisher, mqtt.EventStartup, "", sess)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// HTTP API
	var server *http.Server
	if cfg.HTTP.Addr != "" {
		hub := web.NewHub(sess)
		go hub.Run(ctx)

		var readings web.ReadingStore
		if history != nil {
			readings = history
		}
		server = web.NewServer(cfg.HTTP.Addr, web.NewRouter(sess, readings, hub))
		go func() {
			slog.Info("[HTTP] listening", "addr", cfg.HTTP.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("[HTTP] server failed", "error", err)
			}
		}()
	}

	// Periodic jobs
	var pruner schedule.Pruner
	if history != nil {
		pruner = history
	}
	sched, err := schedule.New(schedule.Config{
		Heartbeat: cfg.Schedule.Heartbeat,
		Prune:     cfg.Schedule.Prune,
		Retention: cfg.Retention(),
	}, sess, publisher, pruner)
	if err != nil {
		fatal("schedule", err)
	}
	sched.Start()

	// Status LED
	var indicator led.Indicator
	if cfg.LED.Pin >= 0 {
		gpio, err := led.NewGPIO(cfg.LED.Chip, cfg.LED.Pin)
		if err != nil {
			slog.Warn("[LED] unavailable", "chip", cfg.LED.Chip, "pin", cfg.LED.Pin, "error", err)
		} else {
			indicator = gpio
			snaps, unsubscribe := sess.Subscribe()
			defer unsubscribe()
			go led.Follow(ctx, indicator, snaps, led.DefaultBlinkPeriod)
		}
	}

	// Hotkey toggle
	var listener *hotkey.Listener
	if len(cfg.Hotkey.Keys) > 0 {
		listener = hotkey.NewListener(cfg.Hotkey.Keys)
		go listener.Start()
		go hotkey.Serve(ctx, listener.Presses(), sess)
		slog.Info("[HOTKEY] listening", "keys", strings.Join(cfg.Hotkey.Keys, "+"))
	}

	if *connect {
		if err := sess.ConnectToConfiguredBike(); err != nil {
			slog.Error("[SESSION] connect failed", "error", err)
		}
	}

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutting down", "signal", sig)

	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("[HTTP] shutdown", "error", err)
		}
		done()
	}
	sched.Stop()
	publishSystem(publisher, mqtt.EventShutdown, sig.String(), sess)
	cancel()

	if err := sess.Close(); err != nil {
		slog.Warn("[SESSION] close", "error", err)
	}
	if indicator != nil {
		indicator.Close()
	}
	if publisher != nil {
		publisher.Close()
	}
	if db != nil {
		db.Close()
	}

	if listener != nil {
		listener.Stop()
		// Exit directly to avoid gohook's C cleanup crash.
		// The OS reclaims the event hook on process exit.
		os.Exit(0)
	}
}

// loadConfig loads the config from path when given, or the user-saved
// config at the default path, falling back to built-in defaults.
func loadConfig(path string) (*config.Config, config.Source, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", path, err)
		}
		return cfg, config.SourceUser, nil
	}
	cfg, source := config.LoadWithFallback("")
	return cfg, source, nil
}

// runScan prints nearby advertisers, marking the configured bike.
func runScan(adapter ble.Adapter, cfg *config.Config) {
	fmt.Printf("Scanning for %s...\n", cfg.ScanTimeout())
	devices, err := ble.ScanForDevices(adapter, "", cfg.ScanTimeout())
	if err != nil {
		fatal("scan", err)
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}

	configured := ble.NormalizeAddress(cfg.Bike.MACAddress)
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		mark := ""
		if configured != "" && ble.NormalizeAddress(d.Address) == configured {
			mark = "  <- configured"
		}
		fmt.Printf("  %-20s  %s  %4d dBm%s\n", name, d.Address, d.RSSI, mark)
	}
}

func publishSystem(pub mqtt.Publisher, event, reason string, sess *session.Session) {
	if pub == nil {
		return
	}
	if err := pub.PublishSystem(mqtt.NewSystemEvent(event, reason, sess.Snapshot(), time.Now())); err != nil {
		slog.Warn("[MQTT] system event failed", "event", event, "error", err)
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	orOff := func(s string) string {
		if s == "" {
			return "(disabled)"
		}
		return s
	}

	fmt.Println("=== ebike-monitor ===")
	fmt.Printf("  Bike:     %s (%s)\n", cfg.Bike.Name, orOff(cfg.Bike.MACAddress))
	fmt.Printf("  Patterns: battery=%v assist=%v speed=%v\n",
		cfg.DataParsing.BatteryPattern, cfg.DataParsing.AssistPattern, cfg.DataParsing.SpeedPattern)
	fmt.Printf("  MQTT:     %s\n", orOff(cfg.MQTT.Broker))
	fmt.Printf("  HTTP:     %s\n", orOff(cfg.HTTP.Addr))
	fmt.Printf("  Storage:  %s\n", orOff(cfg.Storage.Path))
	fmt.Printf("  Hotkey:   %s\n", orOff(strings.Join(cfg.Hotkey.Keys, "+")))
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("=====================")
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
