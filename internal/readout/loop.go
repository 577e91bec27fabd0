// Package readout owns the data socket: accepting the board's
// connection, driving the wire codec and correlation engine, building
// HSI frames, and honoring stop/error states. This is the dedicated
// worker spawned at start and joined at stop.
package readout

import (
	"fmt"
	"log/slog"
	"math/bits"
	"net"
	"sync/atomic"
	"time"

	"github.com/dunedaq-go/ctbreadout/internal/calib"
	"github.com/dunedaq-go/ctbreadout/internal/correlate"
	"github.com/dunedaq-go/ctbreadout/internal/hsi"
	"github.com/dunedaq-go/ctbreadout/internal/issues"
	"github.com/dunedaq-go/ctbreadout/internal/telemetry"
	"github.com/dunedaq-go/ctbreadout/internal/wire"
)

// epilogueBackoff is the spin-wait interval guarding the data socket
// close against the board not yet having acknowledged stop.
const epilogueBackoff = 100 * time.Microsecond

// Config gathers everything a Loop needs to run one readout.
type Config struct {
	ReceiverPort    int
	ReceiverTimeout time.Duration
	RunNumber       uint32

	Calib     *calib.Sink
	Counters  *telemetry.Counters
	Engine    *correlate.Engine
	LLTOut    chan<- hsi.Frame
	HLTOut    chan<- hsi.Frame
	HSIEvents chan<- hsi.Event
	Reporter  issues.Reporter
	Log       *slog.Logger
}

// Loop is one run's readout worker. A fresh Loop is created per
// start/stop cycle by the lifecycle coordinator.
type Loop struct {
	cfg Config
	log *slog.Logger

	stopRequested atomic.Bool
	errorState    atomic.Bool
	// IsRunning is cleared by the lifecycle coordinator once it
	// considers the board to have acknowledged stop; the worker's
	// exit epilogue will not close the data socket until this is
	// false, to avoid racing the board's own shutdown sequence.
	IsRunning atomic.Bool

	hltSeq uint32
	lltSeq uint32
}

// New builds a Loop from cfg. IsRunning starts true.
func New(cfg Config) *Loop {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{cfg: cfg, log: log.With("component", "readout_loop")}
	l.IsRunning.Store(true)
	return l
}

// RequestStop asks the worker to stop at its next checkpoint: before
// the next accept-wait, before the next packet read, or between words
// within a packet.
func (l *Loop) RequestStop() {
	l.stopRequested.Store(true)
}

// ErrorState reports whether a Feedback word was observed this run.
func (l *Loop) ErrorState() bool {
	return l.errorState.Load()
}

// Run binds the acceptor, waits for the board's data connection
// (cancelable by RequestStop), then drives the read loop until EOF,
// an unrecoverable I/O error, or a stop request. It always returns
// once the worker's resources are released.
func (l *Loop) Run() {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.cfg.ReceiverPort))
	if err != nil {
		l.report(issues.KindDataCommunication, issues.SeverityError, "failed to bind receiver port", err)
		return
	}
	defer ln.Close()

	conn, ok := l.acceptWithTimeout(ln)
	if !ok {
		return // stop requested before any peer connected
	}
	defer l.closeConnection(conn)

	l.readLoop(conn)
}

// acceptWithTimeout polls Accept with ReceiverTimeout cadence so a
// pending accept can be cancelled by RequestStop without ever binding
// the data socket to a peer.
func (l *Loop) acceptWithTimeout(ln net.Listener) (net.Conn, bool) {
	tcpLn, _ := ln.(*net.TCPListener)
	for {
		if l.stopRequested.Load() {
			return nil, false
		}
		if tcpLn != nil {
			tcpLn.SetDeadline(time.Now().Add(l.cfg.ReceiverTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			l.report(issues.KindDataCommunication, issues.SeverityError, "accept failed", err)
			return nil, false
		}
		return conn, true
	}
}

func (l *Loop) readLoop(conn net.Conn) {
	decoder := wire.NewDecoder(conn)

	for {
		if l.stopRequested.Load() {
			return
		}
		if l.cfg.Calib != nil {
			l.cfg.Calib.MaybeRotate()
		}

		header, err := decoder.ReadHeader()
		if err != nil {
			l.reportConnectionEnd(err)
			return
		}

		nWords := header.NWords()
		l.cfg.Counters.RecordOccupancy(nWords)

		for i := 0; i < nWords; i++ {
			if l.stopRequested.Load() {
				return // discard the rest of this packet, no resync attempt
			}

			word, err := decoder.ReadWord()
			if err != nil {
				l.reportConnectionEnd(err)
				return
			}

			if l.cfg.Calib != nil && l.cfg.Calib.Enabled() {
				raw := word
				if err := l.cfg.Calib.Write(raw[:]); err != nil {
					l.report(issues.KindDataCommunication, issues.SeverityWarning, "calibration write failed", err)
				}
			}

			l.dispatch(word)
		}
	}
}

func (l *Loop) reportConnectionEnd(err error) {
	if err == wire.ErrEndOfStream {
		l.log.Info("data connection closed by peer")
		return
	}
	l.report(issues.KindDataCommunication, issues.SeverityError, "data socket read failed", err)
}

func (l *Loop) dispatch(word wire.Word) {
	switch word.Type() {
	case wire.WordTS:
		l.cfg.Counters.IncTS()
		l.cfg.Engine.ObserveTS(word.Timestamp())

	case wire.WordFeedback:
		l.errorState.Store(true)
		code, source, _ := word.FeedbackFields()
		l.report(issues.KindFeedbackObserved, issues.SeverityError, "board feedback word observed",
			fmt.Errorf("code=%d source=%d", code, source))

	case wire.WordHLT:
		l.dispatchHLT(word)

	case wire.WordLLT:
		l.dispatchLLT(word)

	case wire.WordChannelStatus:
		l.dispatchChannelStatus(word)

	default:
		// unknown tag: calibration passthrough already happened above;
		// no counter, no HSI frame.
	}
}

func (l *Loop) dispatchHLT(word wire.Word) {
	ts := word.Timestamp()
	l.cfg.Counters.IncHLT(ts)

	triggerWord := word.TriggerWord()
	lltPayload, err := l.cfg.Engine.MatchHLT(ts)
	if err != nil {
		l.report(issues.KindWordMatch, issues.SeverityWarning, "no LLT adjacent to HLT trigger", err)
	}

	l.hltSeq++
	frame := hsi.NewHLT(ts, lltPayload, triggerWord, l.hltSeq)
	l.send(l.cfg.HLTOut, frame)

	event := hsi.NewEvent(triggerWord, ts, l.hltSeq, l.cfg.RunNumber)
	l.sendEvent(event)

	for _, bit := range setBits(triggerWord) {
		l.cfg.Counters.IncHLTBit(bit)
	}
}

func (l *Loop) dispatchLLT(word wire.Word) {
	ts := word.Timestamp()
	l.cfg.Counters.IncLLT()

	triggerWord := word.TriggerWord()
	channelPayload, err := l.cfg.Engine.MatchLLT(ts)
	if err != nil {
		l.report(issues.KindWordMatch, issues.SeverityWarning, "no ChannelStatus adjacent to LLT trigger", err)
	}

	l.lltSeq++
	frame := hsi.NewLLT(ts, channelPayload, triggerWord, l.lltSeq)
	l.send(l.cfg.LLTOut, frame)

	l.cfg.Engine.UpdateLLT(ts, triggerWord)

	for _, bit := range setBits(triggerWord) {
		l.cfg.Counters.IncLLTBit(bit)
	}
}

func (l *Loop) dispatchChannelStatus(word wire.Word) {
	l.cfg.Counters.IncChannelStatus()
	payload := word.ChannelStatusPayload()
	promotedTS := l.cfg.Engine.PromoteChannelStatusTimestamp(word.Timestamp60())
	l.cfg.Engine.ObserveChannelStatus(promotedTS, payload)
}

// send pushes a frame to out, non-blocking: a declining/full channel
// is a BufferOverflow, reported as a warning with the word dropped.
func (l *Loop) send(out chan<- hsi.Frame, frame hsi.Frame) {
	if out == nil {
		return
	}
	select {
	case out <- frame:
		l.cfg.Counters.SetLastSentTS(frame.Timestamp)
	default:
		l.cfg.Counters.IncFailedSend()
		l.report(issues.KindBufferOverflow, issues.SeverityWarning, "output channel declined frame", nil)
	}
}

func (l *Loop) sendEvent(event hsi.Event) {
	if l.cfg.HSIEvents == nil {
		return
	}
	select {
	case l.cfg.HSIEvents <- event:
	default:
		l.cfg.Counters.IncFailedSend()
		l.report(issues.KindBufferOverflow, issues.SeverityWarning, "HSI event channel declined event", nil)
	}
}

// closeConnection runs the exit epilogue: spin-wait for IsRunning to
// clear, then (if error_state) half-close before the final close.
func (l *Loop) closeConnection(conn net.Conn) {
	for l.IsRunning.Load() {
		time.Sleep(epilogueBackoff)
	}

	if l.errorState.Load() {
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tcpConn.CloseWrite(); err != nil {
				l.report(issues.KindDataCommunication, issues.SeverityWarning, "half-close failed", err)
			}
		}
	}

	if err := conn.Close(); err != nil {
		l.report(issues.KindDataCommunication, issues.SeverityWarning, "data socket close failed", err)
	}
}

func (l *Loop) report(kind issues.Kind, severity issues.Severity, message string, err error) {
	if l.cfg.Reporter != nil {
		l.cfg.Reporter.Report(issues.Issue{Kind: kind, Severity: severity, Message: message, Err: err})
	}
}

// setBits returns the indices of every set bit in w, low to high.
func setBits(w uint32) []int {
	if w == 0 {
		return nil
	}
	out := make([]int, 0, bits.OnesCount32(w))
	for w != 0 {
		i := bits.TrailingZeros32(w)
		out = append(out, i)
		w &^= 1 << i
	}
	return out
}
