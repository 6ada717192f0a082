package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/martinwag/CANopenNode/pkg/lss"
)

// AssignmentsVersion is the current version of the assignments file format.
const AssignmentsVersion = 1

// Assignments is the list of node ids a master handed out.
type Assignments struct {
	// Version is the file format version.
	Version int `json:"version"`

	// SavedAt is when the file was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Nodes holds one entry per device address.
	Nodes []Assignment `json:"nodes,omitempty"`
}

// Assignment records the configuration given to one device.
type Assignment struct {
	// Address is the LSS address of the device.
	Address lss.Address `json:"address"`

	// NodeID is the node id assigned.
	NodeID uint8 `json:"node_id"`

	// BitRate is the bit rate configured, in kbit/s. Zero if unchanged.
	BitRate uint16 `json:"bit_rate,omitempty"`

	// Stored is true when the device acknowledged the store command.
	Stored bool `json:"stored,omitempty"`

	// AssignedAt is when the node id was assigned.
	AssignedAt time.Time `json:"assigned_at"`
}

// Lookup returns the assignment of addr.
func (a *Assignments) Lookup(addr lss.Address) (Assignment, bool) {
	for _, n := range a.Nodes {
		if n.Address == addr {
			return n, true
		}
	}
	return Assignment{}, false
}

// Put replaces or adds the assignment for its address.
func (a *Assignments) Put(n Assignment) {
	for i := range a.Nodes {
		if a.Nodes[i].Address == n.Address {
			a.Nodes[i] = n
			return
		}
	}
	a.Nodes = append(a.Nodes, n)
	sort.Slice(a.Nodes, func(i, j int) bool { return a.Nodes[i].NodeID < a.Nodes[j].NodeID })
}

// NextFreeNodeID returns the lowest node id from start not yet assigned.
func (a *Assignments) NextFreeNodeID(start uint8) (uint8, bool) {
	used := make(map[uint8]bool, len(a.Nodes))
	for _, n := range a.Nodes {
		used[n.NodeID] = true
	}
	for id := max(start, lss.NodeIDMin); id <= lss.NodeIDMax; id++ {
		if !used[id] {
			return id, true
		}
	}
	return 0, false
}

// AssignmentStore manages the assignments file.
type AssignmentStore struct {
	mu   sync.Mutex
	path string
}

// NewAssignmentStore creates a store for the file at path.
func NewAssignmentStore(path string) *AssignmentStore {
	return &AssignmentStore{path: path}
}

// Save writes the assignments to disk.
func (s *AssignmentStore) Save(a *Assignments) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	a.Version = AssignmentsVersion
	a.SavedAt = time.Now()

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Load reads the assignments from disk.
// Returns an empty list if the file doesn't exist.
func (s *AssignmentStore) Load() (*Assignments, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Assignments{Version: AssignmentsVersion}, nil
	}
	if err != nil {
		return nil, err
	}

	a := &Assignments{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Clear removes the assignments file.
func (s *AssignmentStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
