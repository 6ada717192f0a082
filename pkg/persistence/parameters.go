package persistence

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/martinwag/CANopenNode/pkg/od"
	"github.com/martinwag/CANopenNode/pkg/storage"
)

// Signatures written to 0x1010 and 0x1011, the ASCII words "save" and
// "load" read as little-endian 32-bit values.
const (
	SignatureSave uint32 = 0x65766173
	SignatureLoad uint32 = 0x64616F6C
)

// ErrInvalidSignature is returned for a store or restore request that does
// not carry the required signature.
var ErrInvalidSignature = errors.New("persistence: invalid signature")

// ParameterStore stores and restores the parameter regions of a device.
type ParameterStore struct {
	mgr     *storage.Manager
	regions []string
	logger  *slog.Logger
}

// NewParameterStore returns a store acting on the named regions, or on all
// regions of mgr when none are given.
func NewParameterStore(mgr *storage.Manager, logger *slog.Logger, regions ...string) (*ParameterStore, error) {
	if len(regions) == 0 {
		regions = mgr.Regions()
	}
	for _, name := range regions {
		if _, ok := mgr.Region(name); !ok {
			return nil, fmt.Errorf("%q: %w", name, storage.ErrUnknownRegion)
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ParameterStore{mgr: mgr, regions: regions, logger: logger}, nil
}

// Regions returns the regions the store acts on.
func (p *ParameterStore) Regions() []string {
	return append([]string(nil), p.regions...)
}

// StoreParameters saves all regions. signature must be SignatureSave.
func (p *ParameterStore) StoreParameters(signature uint32) error {
	return p.store(signature, p.regions)
}

// RestoreDefaults invalidates all regions so the next load after a reset
// yields the defaults. signature must be SignatureLoad.
func (p *ParameterStore) RestoreDefaults(signature uint32) error {
	return p.restore(signature, p.regions)
}

func (p *ParameterStore) store(signature uint32, regions []string) error {
	if signature != SignatureSave {
		return fmt.Errorf("store parameters with 0x%08X: %w", signature, ErrInvalidSignature)
	}
	var errs []error
	for _, name := range regions {
		if err := p.mgr.Save(name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Warn("storing parameters failed", "error", err)
		return err
	}
	p.logger.Info("parameters stored", "regions", regions)
	return nil
}

func (p *ParameterStore) restore(signature uint32, regions []string) error {
	if signature != SignatureLoad {
		return fmt.Errorf("restore defaults with 0x%08X: %w", signature, ErrInvalidSignature)
	}
	var errs []error
	for _, name := range regions {
		if err := p.mgr.Restore(name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Warn("restoring defaults failed", "error", err)
		return err
	}
	p.logger.Info("defaults restored, effective after reset", "regions", regions)
	return nil
}

// Register installs the store and restore hooks on dict. Subindex 1 acts
// on all regions, subindex 2 onwards on one region each in store order;
// the matching entries are added when missing.
func (p *ParameterStore) Register(dict *od.Dictionary) error {
	for _, index := range []uint16{od.IndexStoreParameters, od.IndexRestoreDefaults} {
		for i := range p.regions {
			sub := uint8(i + 2)
			if dict.Has(index, sub) {
				continue
			}
			if err := dict.Add(od.Def{Index: index, Sub: sub, Name: p.regions[i], Size: 4, Access: od.AccessRW}); err != nil {
				return err
			}
		}
		if !dict.Has(index, 1) {
			if err := dict.Add(od.Def{Index: index, Sub: 1, Name: "all", Size: 4, Access: od.AccessRW}); err != nil {
				return err
			}
		}
	}

	dict.SetWriteHook(od.IndexStoreParameters, p.hook(p.store))
	dict.SetWriteHook(od.IndexRestoreDefaults, p.hook(p.restore))
	return nil
}

func (p *ParameterStore) hook(apply func(uint32, []string) error) od.WriteHook {
	return func(sub uint8, data []byte) od.AbortCode {
		var regions []string
		switch {
		case sub == 1:
			regions = p.regions
		case sub >= 2 && int(sub-2) < len(p.regions):
			regions = p.regions[sub-2 : sub-1]
		default:
			return od.AbortSubUnknown
		}
		if len(data) != 4 {
			return od.AbortTypeMismatch
		}
		signature := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24

		err := apply(signature, regions)
		switch {
		case err == nil:
			return od.AbortNone
		case errors.Is(err, ErrInvalidSignature):
			return od.AbortDataTransfer
		default:
			return od.AbortHardware
		}
	}
}
