package can

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// MaxStdID is the highest valid 11-bit identifier.
const MaxStdID = 0x7FF

// Frame errors.
var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidDLC = errors.New("can: invalid data length")
)

// Frame is a classical CAN data frame with an 11-bit identifier.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
}

// NewFrame builds a frame from id and up to 8 payload bytes.
func NewFrame(id uint32, data []byte) (Frame, error) {
	if len(data) > 8 {
		return Frame{}, ErrInvalidDLC
	}
	f := Frame{ID: id, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f, f.Validate()
}

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.DLC > 8 {
		return ErrInvalidDLC
	}
	if f.ID > MaxStdID {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the first DLC data bytes.
func (f Frame) Payload() []byte {
	n := f.DLC
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

// String formats the frame like candump: "7E5#0401000000000000".
func (f Frame) String() string {
	return fmt.Sprintf("%03X#%s", f.ID, hex.EncodeToString(f.Payload()))
}

// Matches reports whether id passes an acceptance filter.
func Matches(id, filterID, mask uint32) bool {
	return (id^filterID)&mask == 0
}
