// Package lifecycle maps the external {init, conf, start, stop}
// commands to internal phases, ordering control-plane commands
// relative to the readout worker and guaranteeing socket/thread
// cleanup on every exit path.
package lifecycle

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dunedaq-go/ctbreadout/internal/calib"
	"github.com/dunedaq-go/ctbreadout/internal/config"
	"github.com/dunedaq-go/ctbreadout/internal/control"
	"github.com/dunedaq-go/ctbreadout/internal/correlate"
	"github.com/dunedaq-go/ctbreadout/internal/hsi"
	"github.com/dunedaq-go/ctbreadout/internal/issues"
	"github.com/dunedaq-go/ctbreadout/internal/readout"
	"github.com/dunedaq-go/ctbreadout/internal/runlog"
	"github.com/dunedaq-go/ctbreadout/internal/telemetry"
)

// stopFlushDelay gives the readout worker a chance to flush before
// StopRun is sent over the control channel.
const stopFlushDelay = 2 * time.Millisecond

// Coordinator implements the init/conf/start/stop command surface.
// Exactly one command runs at a time, serialized by the external
// framework; Coordinator itself adds no further serialization beyond
// a mutex guarding its internal phase transitions.
type Coordinator struct {
	mu sync.Mutex

	log *slog.Logger

	lltOutput chan hsi.Frame
	hltOutput chan hsi.Frame
	hsiEvents chan hsi.Event

	cfg        *config.Config
	configured bool
	controlClient *control.Client
	runHistory *runlog.Store

	counters *telemetry.Counters
	calibration *calib.Sink
	reporter issues.Reporter

	runNumber     uint32
	stopRequested atomic.Bool

	worker   *readout.Loop
	workerWg sync.WaitGroup

	closeOnce sync.Once

	snapMu   sync.RWMutex
	lastSnap telemetry.Snapshot
}

// New constructs a Coordinator. It performs no network I/O; call Init
// to capture output channels.
func New(logger *slog.Logger, reporter issues.Reporter) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "lifecycle")
	if reporter == nil {
		reporter = issues.NewSlogReporter(log)
	}
	return &Coordinator{log: log, reporter: reporter}
}

// Init resolves and captures the two output channels. No network I/O.
func (c *Coordinator) Init(lltOutput, hltOutput chan hsi.Frame, hsiEvents chan hsi.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lltOutput = lltOutput
	c.hltOutput = hltOutput
	c.hsiEvents = hsiEvents
	c.log.Info("init")
}

// Conf copies cfg internally, allocates per-bit counter maps, resolves
// and connects the control socket, and forwards the board
// configuration. If the module was already configured, a HardReset is
// issued first. Any control-channel failure is fatal.
func (c *Coordinator) Conf(cfg *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg
	c.counters = telemetry.New(cfg.EnabledHLTBits(), cfg.EnabledLLTBits())
	c.calibration = calib.New(cfg.CalibrationStreamOutput, "", time.Duration(cfg.CalibrationUpdateMin)*time.Minute, c.log)

	addr := fmt.Sprintf("%s:%d", cfg.CTBHostname, cfg.ControlConnectionPort)
	client, err := control.Dial(addr, c.log)
	if err != nil {
		c.reporter.Report(issues.Issue{Kind: issues.KindConfiguration, Severity: issues.SeverityError, Message: "control socket connect failed", Err: err})
		return fmt.Errorf("lifecycle: conf: %w", err)
	}

	if c.configured {
		if err := client.SendHardReset(); err != nil {
			c.reporter.Report(issues.Issue{Kind: issues.KindConfiguration, Severity: issues.SeverityError, Message: "HardReset failed", Err: err})
			client.Close()
			return fmt.Errorf("lifecycle: conf: hard reset: %w", err)
		}
	}

	hostname, _ := os.Hostname()
	blob, err := cfg.BoardConfigJSON(hostname)
	if err != nil {
		client.Close()
		return fmt.Errorf("lifecycle: conf: marshal board config: %w", err)
	}
	if err := client.SendConfig(blob); err != nil {
		c.reporter.Report(issues.Issue{Kind: issues.KindConfiguration, Severity: issues.SeverityError, Message: "board configuration rejected", Err: err})
		client.Close()
		return fmt.Errorf("lifecycle: conf: send config: %w", err)
	}

	if c.controlClient != nil {
		c.controlClient.Close()
	}
	c.controlClient = client

	if cfg.RunHistory.PostgresDSN != "" {
		store, err := runlog.Open(cfg.RunHistory.PostgresDSN, c.log)
		if err != nil {
			c.log.Warn("run history store unavailable, proceeding without it", "error", err)
		} else {
			c.runHistory = store
		}
	}

	c.configured = true
	c.log.Info("conf complete")
	return nil
}

// Start clears stop_requested, latches run_number, resets the total
// HLT counter, starts the worker, opens the first calibration file (if
// enabled), and sends StartRun. A StartRun failure is fatal; a
// calibration open failure is logged as a warning and the run
// continues without calibration output.
func (c *Coordinator) Start(runNumber uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopRequested.Store(false)
	c.runNumber = runNumber
	c.counters.Reset()

	if c.calibration.Enabled() {
		c.calibration.SetPrefix(fmt.Sprintf("run_%d", runNumber))
		if err := c.calibration.Open(); err != nil {
			c.log.Warn("calibration open failed, continuing without it", "error", err)
		}
	}

	c.worker = readout.New(readout.Config{
		ReceiverPort:    c.cfg.BoardConfig.CTB.Sockets.Receiver.Port,
		ReceiverTimeout: time.Duration(c.cfg.ReceiverConnectionTimeoutUs) * time.Microsecond,
		RunNumber:       runNumber,
		Calib:           c.calibration,
		Counters:        c.counters,
		Engine:          correlate.NewEngine(),
		LLTOut:          c.lltOutput,
		HLTOut:          c.hltOutput,
		HSIEvents:       c.hsiEvents,
		Reporter:        c.reporter,
		Log:             c.log,
	})

	c.workerWg.Add(1)
	go func() {
		defer c.workerWg.Done()
		c.worker.Run()
	}()

	if err := c.controlClient.SendStartRun(); err != nil {
		c.reporter.Report(issues.Issue{Kind: issues.KindControlCommunication, Severity: issues.SeverityError, Message: "StartRun failed", Err: err})
		return fmt.Errorf("lifecycle: start: %w", err)
	}

	if c.runHistory != nil {
		if err := c.runHistory.RecordStart(int(runNumber), time.Now()); err != nil {
			c.log.Warn("run history record-start failed", "error", err)
		}
	}

	c.log.Info("start complete", "run_number", runNumber)
	return nil
}

// Stop sets stop_requested, sleeps to let the worker flush, sends
// StopRun, writes the per-run trigger report (if enabled), joins the
// worker, and resets per-run counters.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopRequested.Store(true)
	if c.worker != nil {
		c.worker.RequestStop()
	}

	time.Sleep(stopFlushDelay)

	var stopErr error
	if c.controlClient != nil {
		if err := c.controlClient.SendStopRun(); err != nil {
			c.reporter.Report(issues.Issue{Kind: issues.KindControlCommunication, Severity: issues.SeverityError, Message: "StopRun failed", Err: err})
			stopErr = fmt.Errorf("lifecycle: stop: %w", err)
		}
	}

	// RunTotals, not Collect: the report needs the whole run's totals
	// regardless of how many times telemetry polled Collect mid-run.
	snap := c.counters.RunTotals()

	if c.cfg.RunTriggerOutput != "" {
		if err := writeTriggerReport(c.cfg.RunTriggerOutput, c.runNumber, snap); err != nil {
			c.log.Warn("run trigger report write failed", "error", err)
		}
	}

	if c.worker != nil {
		// the worker's exit epilogue waits for IsRunning to clear
		// before it will close the data socket, guarding against a
		// race with the board's own shutdown sequence.
		c.worker.IsRunning.Store(false)
	}
	c.workerWg.Wait()

	if c.runHistory != nil {
		if err := c.runHistory.RecordStop(int(c.runNumber), time.Now(), snap.TotalHLT, goodPart); err != nil {
			c.log.Warn("run history record-stop failed", "error", err)
		}
	}

	if c.calibration.Enabled() {
		if err := c.calibration.Close(); err != nil {
			c.log.Warn("calibration close failed", "error", err)
		}
	}

	c.counters.ResetPerRun()
	c.worker = nil

	c.log.Info("stop complete", "run_number", c.runNumber)
	return stopErr
}

// CollectTelemetry runs one telemetry collection cycle and caches the
// result. There is exactly one caller of this in a running instance
// (cmd/ctbreadout's poll loop) so the delta semantics of
// Counters.Collect mean what they say; the admin /telemetry endpoint
// reads the cached copy via LastTelemetrySnapshot, and the WebSocket
// hub receives the poll loop's snapshot by broadcast, so neither
// triggers its own cycle.
func (c *Coordinator) CollectTelemetry() telemetry.Snapshot {
	c.mu.Lock()
	counters := c.counters
	c.mu.Unlock()

	snap := counters.Collect()

	c.snapMu.Lock()
	c.lastSnap = snap
	c.snapMu.Unlock()

	return snap
}

// LastTelemetrySnapshot returns the most recent snapshot cached by
// CollectTelemetry, without running a collection cycle of its own.
func (c *Coordinator) LastTelemetrySnapshot() telemetry.Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.lastSnap
}

// Close unconditionally releases the control socket (and, if
// configured, the run-history store), as required on destruction. If
// the module is still running, it is stopped first.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.worker != nil {
			_ = c.Stop()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.controlClient != nil {
			if cerr := c.controlClient.Close(); cerr != nil {
				err = cerr
			}
		}
		if c.runHistory != nil {
			c.runHistory.Close()
		}
	})
	return err
}
