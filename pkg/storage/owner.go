package storage

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// OwnerTag derives the 32-bit tag that marks tagged regions as written by
// this firmware build. A block carrying any other tag is treated as absent,
// so a new build starts from its defaults. The result is never zero.
func OwnerTag(buildID []byte) uint32 {
	r := hkdf.New(sha256.New, buildID, nil, []byte("canopen storage owner"))

	var buf [4]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 1
		}
		if tag := binary.LittleEndian.Uint32(buf[:]); tag != 0 {
			return tag
		}
	}
}
