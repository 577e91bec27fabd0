package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
ctb_hostname: ctb-01.local
control_connection_port: 8991
receiver_connection_timeout: 500000
calibration_stream_output: /data/calib
calibration_update: 60
run_trigger_output: /data/runs
board_config:
  ctb:
    sockets:
      receiver:
        port: 8992
        host: placeholder
        rollover: 62500000
    misc:
      randomtrigger_1:
        enable: true
      randomtrigger_2:
        enable: false
    HLT:
      - id: HLT_0
        enable: true
      - id: HLT_1
        enable: false
    subsystems:
      crt:
        triggers:
          - id: LLT_0
            enable: true
      beam:
        triggers:
          - id: LLT_1
            enable: true
admin:
  listen_address: ":9100"
telemetry_mirror:
  redis_address: "localhost:6379"
  channel: "ctb-telemetry"
run_history:
  postgres_dsn: "postgres://localhost/ctb"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ctb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	assert.Equal(t, "ctb-01.local", cfg.CTBHostname)
	assert.Equal(t, 8991, cfg.ControlConnectionPort)
	assert.Equal(t, 500000, cfg.ReceiverConnectionTimeoutUs)
	assert.Equal(t, ":9100", cfg.Admin.ListenAddress)
	assert.Equal(t, "localhost:6379", cfg.TelemetryMirror.RedisAddress)
	assert.True(t, cfg.RandomHLTEnabled())
	assert.False(t, cfg.RandomLLTEnabled())
	assert.Equal(t, []int{0}, cfg.EnabledHLTBits())
	assert.ElementsMatch(t, []int{0, 1}, cfg.EnabledLLTBits())
}

const randomOnlyYAML = `
ctb_hostname: ctb-01.local
control_connection_port: 8991
board_config:
  ctb:
    sockets:
      receiver:
        port: 8992
        host: placeholder
        rollover: 62500000
    misc:
      randomtrigger_1:
        enable: true
      randomtrigger_2:
        enable: true
    HLT:
      - id: HLT_1
        enable: true
    subsystems:
      crt:
        triggers:
          - id: LLT_1
            enable: true
`

// TestEnabledBits_RandomTriggerOnlyStillAllocatesBitZero reproduces the
// normal real-board shape where slot 0 is reserved for the random
// trigger and never appears in the HLT/subsystem trigger arrays: the
// only signal that bit 0 should be tracked is randomtrigger_1/2.enable.
func TestEnabledBits_RandomTriggerOnlyStillAllocatesBitZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(randomOnlyYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.RandomHLTEnabled())
	require.True(t, cfg.RandomLLTEnabled())
	assert.ElementsMatch(t, []int{0, 1}, cfg.EnabledHLTBits())
	assert.ElementsMatch(t, []int{0, 1}, cfg.EnabledLLTBits())
}

func TestBoardConfigJSON_OverwritesReceiverHost(t *testing.T) {
	cfg, err := Load(writeSample(t))
	require.NoError(t, err)

	raw, err := cfg.BoardConfigJSON("readout-host.example")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"host":"readout-host.example"`)
	assert.NotContains(t, string(raw), "placeholder")
}
