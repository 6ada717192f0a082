// Package storage persists fixed-size structures in CRC-protected regions
// of a byte-addressable medium.
//
// A saved block is laid out as
//
//	[owner tag (4, tagged regions only)] [payload] [crc32 (4)]
//
// with all words little-endian and the CRC computed over the payload only.
// The first Load of a region snapshots the live structure as its defaults;
// a region without valid data loads those defaults.
package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"

	"github.com/martinwag/CANopenNode/pkg/log"
)

// DefaultEraseChunk is the number of bytes Erase writes per medium call.
const DefaultEraseChunk = 64

const erasedCRC = 0xFFFFFFFF

// Config holds manager configuration.
type Config struct {
	// OwnerTag marks tagged regions written by this build. Zero is not a
	// valid tag; use OwnerTag to derive one.
	OwnerTag uint32

	// EraseChunk bounds the bytes written per call by Erase.
	EraseChunk int

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger captures storage events. Nil disables capture.
	ProtocolLogger log.Logger
}

type regionState struct {
	Region
	defaults []byte
}

// Manager loads, saves and restores regions. All operations are serialized
// by one lock; Payload methods must not call back into the manager.
type Manager struct {
	mu       sync.Mutex
	medium   Medium
	regions  map[string]*regionState
	order    []string
	ownerTag uint32
	chunk    int
	logger   *slog.Logger
	events   *log.Emitter
}

// NewManager validates the region table against the medium and returns
// a manager for it.
func NewManager(medium Medium, regions []Region, cfg Config) (*Manager, error) {
	if medium == nil {
		return nil, fmt.Errorf("nil medium: %w", ErrIllegalArgument)
	}
	if cfg.OwnerTag == 0 {
		return nil, fmt.Errorf("owner tag must be non-zero: %w", ErrIllegalArgument)
	}
	if err := validateRegions(regions, medium.Size()); err != nil {
		return nil, err
	}

	m := &Manager{
		medium:   medium,
		regions:  make(map[string]*regionState, len(regions)),
		ownerTag: cfg.OwnerTag,
		chunk:    cfg.EraseChunk,
		logger:   cfg.Logger,
	}
	if m.chunk <= 0 {
		m.chunk = DefaultEraseChunk
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ProtocolLogger != nil {
		m.events = log.NewEmitter(cfg.ProtocolLogger, log.RoleSlave, "storage")
	}

	for _, r := range regions {
		m.regions[r.Name] = &regionState{Region: r}
		m.order = append(m.order, r.Name)
	}
	return m, nil
}

// Regions returns the region names in table order.
func (m *Manager) Regions() []string {
	return append([]string(nil), m.order...)
}

// Region returns the table entry for name.
func (m *Manager) Region(name string) (Region, bool) {
	rs, ok := m.regions[name]
	if !ok {
		return Region{}, false
	}
	return rs.Region, true
}

func (m *Manager) lookup(name string) (*regionState, error) {
	rs, ok := m.regions[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownRegion)
	}
	return rs, nil
}

func (m *Manager) marshal(rs *regionState) ([]byte, error) {
	data, err := rs.Payload.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal region %q: %w", rs.Name, err)
	}
	if len(data) != rs.Payload.Size() {
		return nil, fmt.Errorf("region %q payload is %d bytes, declared %d: %w",
			rs.Name, len(data), rs.Payload.Size(), ErrIllegalArgument)
	}
	return data, nil
}

// Load reads the region into its live payload.
//
// A block that was never written, carries a foreign owner tag or was
// restored loads the defaults and succeeds. A block failing its CRC
// leaves the live payload untouched, is invalidated on the medium and
// returns ErrCRC.
func (m *Manager) Load(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, err := m.lookup(name)
	if err != nil {
		return err
	}
	if rs.defaults == nil {
		if rs.defaults, err = m.marshal(rs); err != nil {
			return err
		}
	}

	block := make([]byte, rs.BlockSize())
	if _, err := m.medium.ReadAt(block, rs.Start); err != nil {
		m.record(log.StorageOpLoad, name, 0, "read-error")
		return fmt.Errorf("read region %q: %w: %v", name, ErrDataCorrupt, err)
	}

	payload := block[:rs.Payload.Size()]
	if rs.Tagged {
		tag := binary.LittleEndian.Uint32(block[:tagSize])
		if tag != m.ownerTag {
			m.logger.Debug("region has no data for this build", "region", name, "tag", tag)
			return m.applyDefaults(rs, "foreign-tag")
		}
		payload = block[tagSize : tagSize+rs.Payload.Size()]
	}
	stored := binary.LittleEndian.Uint32(block[len(block)-crcSize:])

	if crc32.ChecksumIEEE(payload) == stored {
		if err := rs.Payload.UnmarshalBinary(payload); err != nil {
			return fmt.Errorf("unmarshal region %q: %w", name, err)
		}
		m.record(log.StorageOpLoad, name, 0, "ok")
		return nil
	}

	if stored == erasedCRC {
		return m.applyDefaults(rs, "erased")
	}

	m.logger.Warn("region failed crc check, invalidating", "region", name, "stored_crc", stored)
	written, invErr := m.invalidate(rs)
	m.record(log.StorageOpLoad, name, written, "crc")
	if invErr != nil {
		return fmt.Errorf("region %q: %w (invalidate: %v)", name, ErrCRC, invErr)
	}
	return fmt.Errorf("region %q: %w", name, ErrCRC)
}

func (m *Manager) applyDefaults(rs *regionState, reason string) error {
	if err := rs.Payload.UnmarshalBinary(rs.defaults); err != nil {
		return fmt.Errorf("apply defaults to region %q: %w", rs.Name, err)
	}
	m.record(log.StorageOpLoad, rs.Name, 0, reason)
	return nil
}

// Save writes the live payload. Nothing is written when the medium already
// holds an identical valid block.
func (m *Manager) Save(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, err := m.lookup(name)
	if err != nil {
		return err
	}
	payload, err := m.marshal(rs)
	if err != nil {
		return err
	}
	crc := crc32.ChecksumIEEE(payload)

	if m.unchanged(rs, crc) {
		m.record(log.StorageOpSave, name, 0, "unchanged")
		return nil
	}

	block := make([]byte, 0, rs.BlockSize())
	if rs.Tagged {
		block = binary.LittleEndian.AppendUint32(block, m.ownerTag)
	}
	block = append(block, payload...)
	block = binary.LittleEndian.AppendUint32(block, crc)

	if _, err := m.medium.WriteAt(block, rs.Start); err != nil {
		m.record(log.StorageOpSave, name, 0, "write-error")
		return fmt.Errorf("write region %q: %w: %v", name, ErrDataCorrupt, err)
	}
	m.logger.Debug("region saved", "region", name, "bytes", len(block), "crc", crc)
	m.record(log.StorageOpSave, name, len(block), "ok")
	return nil
}

// unchanged reports whether the medium holds a valid block with this CRC.
func (m *Manager) unchanged(rs *regionState, crc uint32) bool {
	var word [4]byte
	if rs.Tagged {
		if _, err := m.medium.ReadAt(word[:], rs.Start); err != nil {
			return false
		}
		if binary.LittleEndian.Uint32(word[:]) != m.ownerTag {
			return false
		}
	}
	if _, err := m.medium.ReadAt(word[:], rs.crcOffset()); err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(word[:]) == crc
}

// Restore invalidates the stored block so that the next Load yields the
// defaults. The live payload is not touched.
func (m *Manager) Restore(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, err := m.lookup(name)
	if err != nil {
		return err
	}
	written, err := m.invalidate(rs)
	if err != nil {
		m.record(log.StorageOpRestore, name, 0, "write-error")
		return fmt.Errorf("restore region %q: %w: %v", name, ErrDataCorrupt, err)
	}
	m.record(log.StorageOpRestore, name, written, "ok")
	return nil
}

// invalidate zeroes the owner tag of tagged regions and erases the CRC
// word of untagged ones.
func (m *Manager) invalidate(rs *regionState) (int, error) {
	if rs.Tagged {
		return m.medium.WriteAt(make([]byte, tagSize), rs.Start)
	}
	return m.medium.WriteAt(bytes.Repeat([]byte{ErasedByte}, crcSize), rs.crcOffset())
}

// Erase fills the whole reservation with the erased pattern.
func (m *Manager) Erase(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, err := m.lookup(name)
	if err != nil {
		return err
	}

	fill := bytes.Repeat([]byte{ErasedByte}, m.chunk)
	written := 0
	for off := rs.Start; off < rs.end(); off += int64(m.chunk) {
		n := min(int64(m.chunk), rs.end()-off)
		if _, err := m.medium.WriteAt(fill[:n], off); err != nil {
			m.record(log.StorageOpErase, name, written, "write-error")
			return fmt.Errorf("erase region %q: %w: %v", name, ErrDataCorrupt, err)
		}
		written += int(n)
	}
	m.record(log.StorageOpErase, name, written, "ok")
	return nil
}

// LoadAll loads every region and joins the failures.
func (m *Manager) LoadAll() error {
	var errs []error
	for _, name := range m.order {
		if err := m.Load(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveAll saves every region and joins the failures.
func (m *Manager) SaveAll() error {
	var errs []error
	for _, name := range m.order {
		if err := m.Save(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RestoreAll invalidates every region and joins the failures.
func (m *Manager) RestoreAll() error {
	var errs []error
	for _, name := range m.order {
		if err := m.Restore(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) record(op log.StorageOp, region string, written int, result string) {
	if !m.events.Enabled() {
		return
	}
	m.events.Emit(log.Event{
		Layer:    log.LayerStorage,
		Category: log.CategoryStorage,
		Storage: &log.StorageEvent{
			Op:      op,
			Region:  region,
			Written: written,
			Result:  result,
		},
	})
}
