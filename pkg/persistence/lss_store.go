package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/martinwag/CANopenNode/pkg/lss"
	"github.com/martinwag/CANopenNode/pkg/storage"
)

// ErrRegionPayload is returned when the LSS region does not hold an LSSRecord.
var ErrRegionPayload = errors.New("persistence: region payload is not an LSS record")

// LSSRecordSize is the persisted size of an LSSRecord.
const LSSRecordSize = 3

// LSSRecord is the persistent LSS configuration: the node id followed by
// the bit rate in kbit/s, big-endian.
type LSSRecord struct {
	NodeID  uint8
	BitRate uint16
}

// NewLSSRecord returns a record holding the factory defaults.
func NewLSSRecord(nodeID uint8, kbit uint16) *LSSRecord {
	return &LSSRecord{NodeID: nodeID, BitRate: kbit}
}

// Size implements storage.Payload.
func (r *LSSRecord) Size() int { return LSSRecordSize }

// MarshalBinary implements storage.Payload.
func (r *LSSRecord) MarshalBinary() ([]byte, error) {
	return []byte{r.NodeID, byte(r.BitRate >> 8), byte(r.BitRate)}, nil
}

// UnmarshalBinary implements storage.Payload.
func (r *LSSRecord) UnmarshalBinary(data []byte) error {
	if len(data) != LSSRecordSize {
		return fmt.Errorf("lss record is %d bytes, got %d: %w", LSSRecordSize, len(data), storage.ErrIllegalArgument)
	}
	r.NodeID = data[0]
	r.BitRate = uint16(data[1])<<8 | uint16(data[2])
	return nil
}

// LSSStore persists LSS configuration in one storage region.
type LSSStore struct {
	mu        sync.Mutex
	mgr       *storage.Manager
	region    string
	record    *LSSRecord
	supported []uint16
	logger    *slog.Logger
}

// NewLSSStore binds a store to region, whose payload must be an *LSSRecord.
// supported lists the bit rates the device can run at; empty accepts every
// rate of the bit timing table except automatic detection.
func NewLSSStore(mgr *storage.Manager, region string, supported []uint16) (*LSSStore, error) {
	r, ok := mgr.Region(region)
	if !ok {
		return nil, fmt.Errorf("%q: %w", region, storage.ErrUnknownRegion)
	}
	record, ok := r.Payload.(*LSSRecord)
	if !ok {
		return nil, fmt.Errorf("region %q: %w", region, ErrRegionPayload)
	}
	return &LSSStore{
		mgr:       mgr,
		region:    region,
		record:    record,
		supported: slices.Clone(supported),
		logger:    slog.New(slog.DiscardHandler),
	}, nil
}

// SetLogger replaces the discard logger.
func (s *LSSStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// LoadConfig loads the persistent node id and bit rate. On a CRC error the
// defaults are returned together with the error.
func (s *LSSStore) LoadConfig() (nodeID uint8, kbit uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.mgr.Load(s.region)
	if err != nil {
		s.logger.Warn("lss configuration not loaded, using defaults", "region", s.region, "error", err)
	}
	return s.record.NodeID, s.record.BitRate, err
}

// StoreConfig implements lss.ConfigStorer.
func (s *LSSStore) StoreConfig(nodeID uint8, kbit uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := *s.record
	s.record.NodeID, s.record.BitRate = nodeID, kbit
	if err := s.mgr.Save(s.region); err != nil {
		*s.record = prev
		return fmt.Errorf("store lss configuration: %w", err)
	}
	s.logger.Info("lss configuration stored", "node_id", nodeID, "bit_rate", kbit)
	return nil
}

// BitRateSupported implements lss.BitRateValidator.
func (s *LSSStore) BitRateSupported(kbit uint16) bool {
	if len(s.supported) == 0 {
		_, ok := lss.BitRateIndex(kbit)
		return ok && kbit != lss.BitRateAuto
	}
	return slices.Contains(s.supported, kbit)
}

// Compile-time interface satisfaction checks.
var (
	_ lss.ConfigStorer     = (*LSSStore)(nil)
	_ lss.BitRateValidator = (*LSSStore)(nil)
	_ storage.Payload      = (*LSSRecord)(nil)
)
