package od

import (
	"fmt"

	"github.com/martinwag/CANopenNode/pkg/storage"
)

// groupPayload persists the entries of one storage group, concatenated
// in (index, subindex) order.
type groupPayload struct {
	d    *Dictionary
	name string
}

// Group returns the storage payload of a group. Entries must not be added
// to the group after the payload is registered with a storage manager.
func (d *Dictionary) Group(name string) storage.Payload {
	return &groupPayload{d: d, name: name}
}

func (g *groupPayload) Size() int {
	g.d.mu.RLock()
	defer g.d.mu.RUnlock()
	n := 0
	for _, k := range g.d.groupKeysLocked(g.name) {
		n += g.d.entries[k].Size
	}
	return n
}

func (g *groupPayload) MarshalBinary() ([]byte, error) {
	g.d.mu.RLock()
	defer g.d.mu.RUnlock()
	var out []byte
	for _, k := range g.d.groupKeysLocked(g.name) {
		out = append(out, g.d.entries[k].data...)
	}
	return out, nil
}

func (g *groupPayload) UnmarshalBinary(data []byte) error {
	g.d.mu.Lock()
	defer g.d.mu.Unlock()
	keys := g.d.groupKeysLocked(g.name)
	n := 0
	for _, k := range keys {
		n += g.d.entries[k].Size
	}
	if n != len(data) {
		return fmt.Errorf("group %q is %d bytes, got %d: %w", g.name, n, len(data), ErrSizeMismatch)
	}
	for _, k := range keys {
		e := g.d.entries[k]
		copy(e.data, data[:e.Size])
		data = data[e.Size:]
	}
	return nil
}

var _ storage.Payload = (*groupPayload)(nil)
