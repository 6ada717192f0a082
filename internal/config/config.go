// Package config loads the simulator configuration from YAML.
package config

import "github.com/martinwag/CANopenNode/pkg/lss"

// Config is the simulator configuration.
type Config struct {
	Bus        BusConfig        `yaml:"bus"`
	Master     MasterConfig     `yaml:"master"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Daisychain DaisychainConfig `yaml:"daisychain"`
	Nodes      []NodeConfig     `yaml:"nodes"`
}

// ---- BUS ----

type BusConfig struct {
	// BitRate is the initial bit rate of every controller, in kbit/s.
	BitRate uint16 `yaml:"bit_rate"`

	// TickMs is the node process interval.
	TickMs int `yaml:"tick_ms"`
}

// ---- MASTER ----

type MasterConfig struct {
	TimeoutMs         int `yaml:"timeout_ms"`
	FastscanTimeoutMs int `yaml:"fastscan_timeout_ms"`

	// FirstNodeID is the lowest node id handed out by "assign".
	FirstNodeID uint8 `yaml:"first_node_id"`

	// AssignmentsFile records the node ids handed out (optional).
	AssignmentsFile string `yaml:"assignments_file"`
}

// ---- STORAGE ----

type StorageConfig struct {
	// Dir holds one file medium per node. Empty keeps media in memory.
	Dir string `yaml:"dir"`

	// BuildID derives the owner tag of stored parameters.
	BuildID string `yaml:"build_id"`
}

// ---- LOG ----

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// ProtocolFile captures frames and state changes (optional).
	ProtocolFile string `yaml:"protocol_file"`
}

// ---- DAISYCHAIN ----

type DaisychainConfig struct {
	COBID     uint32 `yaml:"cob_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- NODE ----

type NodeConfig struct {
	Name    string      `yaml:"name"`
	Address lss.Address `yaml:",inline"`

	// NodeID is the factory node id, 0 for unconfigured.
	NodeID  uint8  `yaml:"node_id"`
	BitRate uint16 `yaml:"bit_rate"`

	SupportedBitRates []uint16 `yaml:"supported_bit_rates"`

	DeviceName  string `yaml:"device_name"`
	DeviceType  uint32 `yaml:"device_type"`
	HeartbeatMs uint16 `yaml:"heartbeat_ms"`
	AppParams   int    `yaml:"app_params"`
}
