package storage

import (
	"encoding"
	"fmt"
	"sort"
)

const (
	tagSize = 4
	crcSize = 4
)

// Payload is the live structure persisted in one region. Size must be
// constant for the lifetime of the region.
type Payload interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Size() int
}

// Region describes one persisted block on the medium.
type Region struct {
	// Name identifies the region in manager calls.
	Name string

	// Start is the absolute medium offset.
	Start int64

	// Reserved is the number of medium bytes set aside, including
	// tag and CRC overhead.
	Reserved int

	// Tagged regions carry the owner tag ahead of the payload and are
	// invalidated by zeroing it.
	Tagged bool

	// Payload is the live structure.
	Payload Payload
}

// Overhead returns the bytes the block needs beyond the payload.
func (r Region) Overhead() int {
	if r.Tagged {
		return tagSize + crcSize
	}
	return crcSize
}

// BlockSize returns the number of bytes one saved block occupies.
func (r Region) BlockSize() int {
	return r.Overhead() + r.Payload.Size()
}

func (r Region) payloadOffset() int64 {
	if r.Tagged {
		return r.Start + tagSize
	}
	return r.Start
}

func (r Region) crcOffset() int64 {
	return r.payloadOffset() + int64(r.Payload.Size())
}

func (r Region) end() int64 {
	return r.Start + int64(r.Reserved)
}

// Layout assigns consecutive start offsets to regions beginning at base.
func Layout(base int64, regions ...Region) []Region {
	out := make([]Region, len(regions))
	off := base
	for i, r := range regions {
		r.Start = off
		off += int64(r.Reserved)
		out[i] = r
	}
	return out
}

// validateRegions checks the table once: every block fits its reservation,
// reservations are disjoint and inside the medium.
func validateRegions(regions []Region, capacity int64) error {
	seen := make(map[string]bool, len(regions))
	var total int64

	for _, r := range regions {
		if r.Name == "" || r.Payload == nil || r.Start < 0 {
			return fmt.Errorf("region %q: %w", r.Name, ErrIllegalArgument)
		}
		if seen[r.Name] {
			return fmt.Errorf("region %q defined twice: %w", r.Name, ErrIllegalArgument)
		}
		seen[r.Name] = true

		if r.BlockSize() > r.Reserved {
			return fmt.Errorf("region %q needs %d bytes, %d reserved: %w",
				r.Name, r.BlockSize(), r.Reserved, ErrOutOfMemory)
		}
		if r.end() > capacity {
			return fmt.Errorf("region %q ends at %d beyond medium size %d: %w",
				r.Name, r.end(), capacity, ErrOutOfMemory)
		}
		total += int64(r.Reserved)
	}
	if total > capacity {
		return fmt.Errorf("regions reserve %d bytes, medium has %d: %w", total, capacity, ErrOutOfMemory)
	}

	sorted := append([]Region(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].end() {
			return fmt.Errorf("regions %q and %q: %w", sorted[i-1].Name, sorted[i].Name, ErrRegionOverlap)
		}
	}
	return nil
}
