package config

import "fmt"

// Defaults.
const (
	DefaultBitRate           = 125
	DefaultTickMs            = 10
	DefaultMasterTimeoutMs   = 1000
	DefaultFastscanTimeoutMs = 100
	DefaultFirstNodeID       = 2
	DefaultBuildID           = "lss-sim"
	DefaultLogLevel          = "info"
	DefaultHeartbeatMs       = 1000
)

// ApplyDefaults fills unset values.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Bus.BitRate == 0 {
		cfg.Bus.BitRate = DefaultBitRate
	}
	if cfg.Bus.TickMs == 0 {
		cfg.Bus.TickMs = DefaultTickMs
	}
	if cfg.Master.TimeoutMs == 0 {
		cfg.Master.TimeoutMs = DefaultMasterTimeoutMs
	}
	if cfg.Master.FastscanTimeoutMs == 0 {
		cfg.Master.FastscanTimeoutMs = DefaultFastscanTimeoutMs
	}
	if cfg.Master.FirstNodeID == 0 {
		cfg.Master.FirstNodeID = DefaultFirstNodeID
	}
	if cfg.Storage.BuildID == "" {
		cfg.Storage.BuildID = DefaultBuildID
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}

	for i := range cfg.Nodes {
		n := &cfg.Nodes[i]
		if n.BitRate == 0 {
			n.BitRate = cfg.Bus.BitRate
		}
		if n.DeviceName == "" {
			n.DeviceName = n.Name
			if len(n.DeviceName) > 16 {
				n.DeviceName = n.DeviceName[:16]
			}
		}
		if n.HeartbeatMs == 0 {
			n.HeartbeatMs = DefaultHeartbeatMs
		}
	}
}

// Summary returns a one-line description for logs.
func (c *Config) Summary() string {
	return fmt.Sprintf("%d nodes at %d kbit/s, tick %d ms", len(c.Nodes), c.Bus.BitRate, c.Bus.TickMs)
}
