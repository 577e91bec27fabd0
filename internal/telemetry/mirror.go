package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// publisher is a minimal interface over the concrete Redis client so
// this package never depends on go-redis internals beyond Publish;
// NewMirror constructs the concrete client and stores it behind this
// interface.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Mirror publishes telemetry snapshots to a Redis channel, best
// effort: failures are logged at warning and never propagate, so a
// down Redis never blocks or fails a collection cycle.
type Mirror struct {
	client  publisher
	channel string
	timeout time.Duration
	log     *slog.Logger
}

// NewMirror creates a Redis client for addr and returns a Mirror that
// publishes Snapshot JSON to channel through it.
// Returns nil if addr is empty, matching the "optional sink" pattern
// used throughout (calibration, run history).
func NewMirror(addr, channel string, logger *slog.Logger) *Mirror {
	if addr == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Mirror{client: client, channel: channel, timeout: 2 * time.Second, log: logger.With("component", "telemetry_mirror")}
}

// Publish marshals snap and publishes it, logging (not returning) any
// failure.
func (m *Mirror) Publish(snap Snapshot) {
	if m == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		m.log.Warn("telemetry mirror marshal failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.client.Publish(ctx, m.channel, data).Err(); err != nil {
		m.log.Warn("telemetry mirror publish failed", "error", err)
	}
}

// Close closes the underlying client, if it supports it.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	if closer, ok := m.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
