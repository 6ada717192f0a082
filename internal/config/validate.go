package config

import (
	"errors"
	"fmt"

	"github.com/martinwag/CANopenNode/pkg/lss"
	"github.com/martinwag/CANopenNode/pkg/od"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

var logLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.Bus.BitRate != 0 && !standardBitRate(cfg.Bus.BitRate) {
		return fmt.Errorf("bus: bit_rate %d is not a standard rate: %w", cfg.Bus.BitRate, ErrInvalid)
	}
	if cfg.Bus.TickMs < 0 || cfg.Master.TimeoutMs < 0 || cfg.Master.FastscanTimeoutMs < 0 || cfg.Daisychain.TimeoutMs < 0 {
		return fmt.Errorf("negative interval: %w", ErrInvalid)
	}
	if cfg.Master.FirstNodeID != 0 && !lss.NodeIDConfigured(cfg.Master.FirstNodeID) {
		return fmt.Errorf("master: first_node_id %d out of range: %w", cfg.Master.FirstNodeID, ErrInvalid)
	}
	if cfg.Daisychain.COBID > 0x7FF {
		return fmt.Errorf("daisychain: cob_id 0x%X is not an 11-bit identifier: %w", cfg.Daisychain.COBID, ErrInvalid)
	}
	if cfg.Daisychain.COBID == lss.MasterCOBID || cfg.Daisychain.COBID == lss.SlaveCOBID {
		return fmt.Errorf("daisychain: cob_id 0x%X is used by LSS: %w", cfg.Daisychain.COBID, ErrInvalid)
	}
	if !logLevels[cfg.Log.Level] {
		return fmt.Errorf("log: unknown level %q: %w", cfg.Log.Level, ErrInvalid)
	}
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("at least one node is required: %w", ErrInvalid)
	}

	names := make(map[string]bool)
	addrs := make(map[lss.Address]string)
	nodeIDs := make(map[uint8]string)
	for i, n := range cfg.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node %d: name is required: %w", i, ErrInvalid)
		}
		if names[n.Name] {
			return fmt.Errorf("node %q defined twice: %w", n.Name, ErrInvalid)
		}
		names[n.Name] = true

		if prev, ok := addrs[n.Address]; ok {
			return fmt.Errorf("node %q: address %s already used by %q: %w", n.Name, n.Address, prev, ErrInvalid)
		}
		addrs[n.Address] = n.Name

		if n.NodeID != 0 {
			if !lss.NodeIDValid(n.NodeID) {
				return fmt.Errorf("node %q: node_id %d out of range: %w", n.Name, n.NodeID, ErrInvalid)
			}
			if prev, ok := nodeIDs[n.NodeID]; ok && lss.NodeIDConfigured(n.NodeID) {
				return fmt.Errorf("node %q: node_id %d already used by %q: %w", n.Name, n.NodeID, prev, ErrInvalid)
			}
			nodeIDs[n.NodeID] = n.Name
		}
		if n.BitRate != 0 && !standardBitRate(n.BitRate) {
			return fmt.Errorf("node %q: bit_rate %d is not a standard rate: %w", n.Name, n.BitRate, ErrInvalid)
		}
		for _, r := range n.SupportedBitRates {
			if !standardBitRate(r) {
				return fmt.Errorf("node %q: supported bit rate %d is not a standard rate: %w", n.Name, r, ErrInvalid)
			}
		}
		if len(n.DeviceName) > od.DeviceNameSize {
			return fmt.Errorf("node %q: device_name longer than %d bytes: %w", n.Name, od.DeviceNameSize, ErrInvalid)
		}
		if n.AppParams < 0 || n.AppParams > 64 {
			return fmt.Errorf("node %q: app_params must be 0..64: %w", n.Name, ErrInvalid)
		}
	}
	return nil
}

func standardBitRate(kbit uint16) bool {
	_, ok := lss.BitRateIndex(kbit)
	return ok && kbit != lss.BitRateAuto
}
