// Package calib implements the calibration stream sink: a
// time-bucketed rotating binary file that receives every word read
// from the data socket verbatim, plus an integrity sidecar digest
// written on rotation.
package calib

import (
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

const nameLayout = "2006-01-02_15.04.05"

// Sink writes raw words to a rotating file. Single-owner: only the
// readout worker touches it.
type Sink struct {
	dir       string
	prefix    string
	interval  time.Duration
	log       *slog.Logger

	file      *os.File
	hasher    hash.Hash
	openedAt  time.Time
	path      string
}

// New returns a disabled sink if dir is empty (matching the
// "calibration_stream_output empty disables" rule), otherwise a sink
// ready to have Open called.
func New(dir, prefix string, interval time.Duration, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{dir: dir, prefix: prefix, interval: interval, log: logger.With("component", "calib_sink")}
}

// Enabled reports whether this sink was configured with a non-empty
// directory.
func (s *Sink) Enabled() bool {
	return s.dir != ""
}

// SetPrefix updates the filename prefix used by subsequent Open/
// rotation calls, so the coordinator can tag each run's calibration
// files with its run number before opening the first one.
func (s *Sink) SetPrefix(prefix string) {
	s.prefix = prefix
}

// Open opens the first calibration file, named
// <dir>/<prefix>_YYYY-MM-DD_HH.MM.SS.calib.
func (s *Sink) Open() error {
	if !s.Enabled() {
		return nil
	}
	return s.openNew(time.Now())
}

func (s *Sink) openNew(now time.Time) error {
	name := fmt.Sprintf("%s_%s.calib", s.prefix, now.Format(nameLayout))
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("calib: create %s: %w", path, err)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		f.Close()
		return fmt.Errorf("calib: new hasher: %w", err)
	}

	s.file = f
	s.hasher = h
	s.path = path
	s.openedAt = now
	s.log.Info("calibration file opened", "path", path)
	return nil
}

// MaybeRotate closes the current file and opens a new one if the
// rotation interval has elapsed. Errors opening the replacement are
// logged as a recoverable warning and leave the sink with no open
// file: subsequent writes are no-ops and MaybeRotate makes no further
// attempt until Open is called again. Readout itself continues
// regardless.
func (s *Sink) MaybeRotate() {
	if !s.Enabled() || s.file == nil {
		return
	}
	now := time.Now()
	if now.Sub(s.openedAt) < s.interval {
		return
	}
	if err := s.rotate(now); err != nil {
		s.log.Warn("calibration rotation failed", "error", err)
	}
}

func (s *Sink) rotate(now time.Time) error {
	if err := s.closeCurrent(); err != nil {
		s.log.Warn("calibration close failed", "error", err)
	}
	return s.openNew(now)
}

// Write appends a raw word verbatim and flushes. A no-op if the sink
// is disabled or has no open file.
func (s *Sink) Write(word []byte) error {
	if !s.Enabled() || s.file == nil {
		return nil
	}
	if _, err := s.file.Write(word); err != nil {
		return fmt.Errorf("calib: write: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("calib: flush: %w", err)
	}
	s.hasher.Write(word)
	return nil
}

// Close closes the current file (if any) and writes its BLAKE2b-256
// integrity sidecar.
func (s *Sink) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.closeCurrent()
}

func (s *Sink) closeCurrent() error {
	if s.file == nil {
		return nil
	}
	path := s.path
	digest := s.hasher.Sum(nil)

	if err := s.file.Close(); err != nil {
		s.file = nil
		return fmt.Errorf("calib: close %s: %w", path, err)
	}
	s.file = nil

	sidecar := path + ".b2"
	if err := os.WriteFile(sidecar, []byte(hex.EncodeToString(digest)+"\n"), 0o644); err != nil {
		return fmt.Errorf("calib: write sidecar %s: %w", sidecar, err)
	}
	s.log.Info("calibration file closed", "path", path, "sidecar", sidecar)
	return nil
}
