package storage

import "errors"

// Storage errors.
var (
	// ErrOutOfMemory means the region table does not fit the medium.
	ErrOutOfMemory = errors.New("storage: out of memory")

	// ErrRegionOverlap means two reservations share medium bytes.
	ErrRegionOverlap = errors.New("storage: regions overlap")

	// ErrIllegalArgument is returned for malformed regions or payloads.
	ErrIllegalArgument = errors.New("storage: illegal argument")

	// ErrUnknownRegion is returned for names not in the region table.
	ErrUnknownRegion = errors.New("storage: unknown region")

	// ErrCRC means the stored block failed its checksum. The block has
	// been invalidated and the next load yields the defaults.
	ErrCRC = errors.New("storage: crc mismatch")

	// ErrDataCorrupt means the medium could not be read or written.
	ErrDataCorrupt = errors.New("storage: medium access failed")
)
