// Package config loads the driver's YAML configuration file into a
// typed Config, and assembles the JSON sub-blob forwarded verbatim to
// the board (after overwriting receiver.host with the local hostname).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the full operations configuration for one CTB readout
// instance.
type Config struct {
	CTBHostname              string `yaml:"ctb_hostname"`
	ControlConnectionPort    int    `yaml:"control_connection_port"`
	ReceiverConnectionTimeoutUs int `yaml:"receiver_connection_timeout"`

	CalibrationStreamOutput string `yaml:"calibration_stream_output"`
	CalibrationUpdateMin    int    `yaml:"calibration_update"`
	RunTriggerOutput        string `yaml:"run_trigger_output"`

	BoardConfig BoardConfig `yaml:"board_config"`

	Admin           AdminConfig           `yaml:"admin"`
	TelemetryMirror TelemetryMirrorConfig `yaml:"telemetry_mirror"`
	RunHistory      RunHistoryConfig      `yaml:"run_history"`
}

// BoardConfig is the sub-tree forwarded to the board, modulo the
// receiver.host override.
type BoardConfig struct {
	CTB CTBBoardConfig `yaml:"ctb" json:"ctb"`
}

type CTBBoardConfig struct {
	Sockets     SocketsConfig     `yaml:"sockets" json:"sockets"`
	Misc        MiscConfig        `yaml:"misc" json:"misc"`
	HLT         []TriggerEntry    `yaml:"HLT" json:"HLT"`
	Subsystems  SubsystemsConfig  `yaml:"subsystems" json:"subsystems"`
}

type SocketsConfig struct {
	Receiver ReceiverConfig `yaml:"receiver" json:"receiver"`
}

type ReceiverConfig struct {
	Port     int    `yaml:"port" json:"port"`
	Host     string `yaml:"host" json:"host"`
	Rollover int    `yaml:"rollover" json:"rollover"`
}

type MiscConfig struct {
	RandomTrigger1 RandomTriggerConfig `yaml:"randomtrigger_1" json:"randomtrigger_1"`
	RandomTrigger2 RandomTriggerConfig `yaml:"randomtrigger_2" json:"randomtrigger_2"`
}

type RandomTriggerConfig struct {
	Enable bool `yaml:"enable" json:"enable"`
}

type TriggerEntry struct {
	ID     string `yaml:"id" json:"id"`
	Enable bool   `yaml:"enable" json:"enable"`
}

type SubsystemsConfig struct {
	CRT  SubsystemConfig `yaml:"crt" json:"crt"`
	Beam SubsystemConfig `yaml:"beam" json:"beam"`
}

type SubsystemConfig struct {
	Triggers []TriggerEntry `yaml:"triggers" json:"triggers"`
}

// AdminConfig configures the optional HTTP+WebSocket admin surface.
type AdminConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// TelemetryMirrorConfig configures the optional Redis telemetry mirror.
type TelemetryMirrorConfig struct {
	RedisAddress string `yaml:"redis_address"`
	Channel      string `yaml:"channel"`
}

// RunHistoryConfig configures the optional Postgres run-history store.
type RunHistoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Load reads and decodes a YAML configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// BoardConfigJSON marshals the board_config sub-tree to JSON after
// overwriting receiver.host with hostname, the shape forwarded
// verbatim to the board as the configuration command.
func (c *Config) BoardConfigJSON(hostname string) ([]byte, error) {
	boardCfg := c.BoardConfig
	boardCfg.CTB.Sockets.Receiver.Host = hostname
	return json.Marshal(boardCfg)
}

// RandomHLTEnabled reports whether the random HLT counter (index 0)
// should be tracked.
func (c *Config) RandomHLTEnabled() bool {
	return c.BoardConfig.CTB.Misc.RandomTrigger1.Enable
}

// RandomLLTEnabled reports whether the random LLT counter (index 0)
// should be tracked.
func (c *Config) RandomLLTEnabled() bool {
	return c.BoardConfig.CTB.Misc.RandomTrigger2.Enable
}

// EnabledHLTBits returns the bit indices with enable=true among the
// configured HLT trigger entries, parsed from an "HLT_n" id, plus bit
// 0 if the random trigger is enabled: on a real board, slot 0 is
// reserved for the random trigger and never appears in the array
// itself.
func (c *Config) EnabledHLTBits() []int {
	bits := enabledBits(c.BoardConfig.CTB.HLT, "HLT_")
	if c.RandomHLTEnabled() {
		bits = unionBit(bits, 0)
	}
	return bits
}

// EnabledLLTBits returns the bit indices with enable=true among the
// configured crt/beam subsystem trigger entries, parsed from an
// "LLT_n" id, plus bit 0 if the random trigger is enabled (see
// EnabledHLTBits).
func (c *Config) EnabledLLTBits() []int {
	bits := enabledBits(c.BoardConfig.CTB.Subsystems.CRT.Triggers, "LLT_")
	bits = append(bits, enabledBits(c.BoardConfig.CTB.Subsystems.Beam.Triggers, "LLT_")...)
	if c.RandomLLTEnabled() {
		bits = unionBit(bits, 0)
	}
	return bits
}

// unionBit appends bit to bits if not already present.
func unionBit(bits []int, bit int) []int {
	for _, b := range bits {
		if b == bit {
			return bits
		}
	}
	return append(bits, bit)
}

func enabledBits(entries []TriggerEntry, prefix string) []int {
	var bits []int
	for _, e := range entries {
		if !e.Enable {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(e.ID, prefix+"%d", &n); err != nil {
			continue
		}
		bits = append(bits, n)
	}
	return bits
}
