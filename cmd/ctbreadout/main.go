// Command ctbreadout runs one CTB readout instance standalone: load
// config, init/conf/start the lifecycle coordinator, serve the
// optional admin surface, and stop cleanly on SIGINT/SIGTERM.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dunedaq-go/ctbreadout/internal/admin"
	"github.com/dunedaq-go/ctbreadout/internal/config"
	"github.com/dunedaq-go/ctbreadout/internal/hsi"
	"github.com/dunedaq-go/ctbreadout/internal/issues"
	"github.com/dunedaq-go/ctbreadout/internal/lifecycle"
	"github.com/dunedaq-go/ctbreadout/internal/telemetry"
)

const telemetryPollInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", "ctb_readout.yaml", "path to the YAML configuration file")
	runNumber := flag.Uint("run-number", 1, "run number to latch at start")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, continuing with process environment")
	}

	log := slog.Default()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	reporter := issues.NewSlogReporter(log)
	coord := lifecycle.New(log, reporter)

	lltOutput := make(chan hsi.Frame, 64)
	hltOutput := make(chan hsi.Frame, 64)
	hsiEvents := make(chan hsi.Event, 64)

	coord.Init(lltOutput, hltOutput, hsiEvents)

	if err := coord.Conf(cfg); err != nil {
		log.Error("conf failed", "error", err)
		os.Exit(1)
	}

	var adminServer *admin.Server
	var hub *admin.Hub
	var metrics *telemetry.Metrics
	var mirror *telemetry.Mirror

	if cfg.Admin.ListenAddress != "" {
		hub = admin.NewHub(log)
		go hub.Run()
		adminServer = admin.NewServer(cfg.Admin.ListenAddress, hub, coord.LastTelemetrySnapshot, log)
		adminServer.Start()
		log.Info("admin surface listening", "addr", cfg.Admin.ListenAddress)
	}

	metrics = telemetry.NewMetrics()

	if cfg.TelemetryMirror.RedisAddress != "" {
		mirror = telemetry.NewMirror(cfg.TelemetryMirror.RedisAddress, cfg.TelemetryMirror.Channel, log)
	}

	if err := coord.Start(uint32(*runNumber)); err != nil {
		log.Error("start failed", "error", err)
		os.Exit(1)
	}
	log.Info("run started", "run_number", *runNumber)

	stopTelemetry := make(chan struct{})
	go pollTelemetry(coord, hub, metrics, mirror, stopTelemetry)
	if hub != nil {
		go relayHSIEvents(hsiEvents, hub)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("signal received, stopping run")

	close(stopTelemetry)

	if err := coord.Stop(); err != nil {
		log.Warn("stop reported an error", "error", err)
	}
	if err := coord.Close(); err != nil {
		log.Warn("close reported an error", "error", err)
	}
	if adminServer != nil {
		if err := adminServer.Close(); err != nil {
			log.Warn("admin server close failed", "error", err)
		}
	}
	if mirror != nil {
		if err := mirror.Close(); err != nil {
			log.Warn("telemetry mirror close failed", "error", err)
		}
	}
	log.Info("shutdown complete")
}

// relayHSIEvents drains the worker's HSI event channel and fans each
// event out to the admin WebSocket hub, until the channel is closed.
func relayHSIEvents(hsiEvents <-chan hsi.Event, hub *admin.Hub) {
	for event := range hsiEvents {
		hub.Broadcast(admin.Event{Type: "hsi_event", Data: event})
	}
}

// pollTelemetry periodically collects a Snapshot and fans it out to
// whichever optional telemetry consumers are configured, until stop
// is closed.
func pollTelemetry(coord *lifecycle.Coordinator, hub *admin.Hub, metrics *telemetry.Metrics, mirror *telemetry.Mirror, stop <-chan struct{}) {
	ticker := time.NewTicker(telemetryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := coord.CollectTelemetry()
			if metrics != nil {
				metrics.Observe(snap)
			}
			if mirror != nil {
				mirror.Publish(snap)
			}
			if hub != nil {
				hub.Broadcast(admin.Event{Type: "telemetry", Data: snap})
			}
		}
	}
}
