// Package od holds the subset of a CANopen object dictionary the node
// needs: fixed-size entries addressed by index and subindex, typed
// accessors that check sizes, SDO-style writes with veto hooks and
// storage groups persisted through pkg/storage.
package od

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Dictionary errors.
var (
	ErrNotFound     = errors.New("od: entry not found")
	ErrSizeMismatch = errors.New("od: size mismatch")
	ErrExists       = errors.New("od: entry already defined")
)

// Access describes what an external (SDO) client may do with an entry.
// Local typed accessors are not restricted.
type Access uint8

const (
	AccessRW Access = iota
	AccessRO
	AccessWO
)

// WriteHook runs before an external write is committed. A non-zero abort
// code rejects the write. Hooks run without the dictionary lock held.
type WriteHook func(sub uint8, data []byte) AbortCode

// Def defines one entry.
type Def struct {
	Index   uint16
	Sub     uint8
	Name    string
	Size    int
	Access  Access
	Group   string // storage group, empty for volatile entries
	Default []byte // initial value, zero-filled when shorter than Size
}

type key struct {
	index uint16
	sub   uint8
}

func (k key) String() string { return fmt.Sprintf("%04X:%02X", k.index, k.sub) }

type entry struct {
	Def
	data []byte
}

// Dictionary is a set of entries. Accessors are safe for concurrent use.
type Dictionary struct {
	mu      sync.RWMutex
	entries map[key]*entry
	hooks   map[uint16]WriteHook
	onWrite func(index uint16, sub uint8)

	access sync.Mutex
}

// New returns an empty dictionary.
func New() *Dictionary {
	return &Dictionary{
		entries: make(map[key]*entry),
		hooks:   make(map[uint16]WriteHook),
	}
}

// Add defines an entry.
func (d *Dictionary) Add(def Def) error {
	if def.Size <= 0 {
		return fmt.Errorf("%04X:%02X size %d: %w", def.Index, def.Sub, def.Size, ErrSizeMismatch)
	}
	if len(def.Default) > def.Size {
		return fmt.Errorf("%04X:%02X default is %d bytes, size %d: %w",
			def.Index, def.Sub, len(def.Default), def.Size, ErrSizeMismatch)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	k := key{def.Index, def.Sub}
	if _, ok := d.entries[k]; ok {
		return fmt.Errorf("%s: %w", k, ErrExists)
	}
	data := make([]byte, def.Size)
	copy(data, def.Default)
	d.entries[k] = &entry{Def: def, data: data}
	return nil
}

// Has reports whether the entry exists.
func (d *Dictionary) Has(index uint16, sub uint8) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[key{index, sub}]
	return ok
}

// Size returns the entry size.
func (d *Dictionary) Size(index uint16, sub uint8) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key{index, sub}]
	if !ok {
		return 0, fmt.Errorf("%s: %w", key{index, sub}, ErrNotFound)
	}
	return e.Size, nil
}

// OnWrite installs fn to be called after every committed external write.
func (d *Dictionary) OnWrite(fn func(index uint16, sub uint8)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onWrite = fn
}

// SetWriteHook installs the write hook for all subindexes of index.
func (d *Dictionary) SetWriteHook(index uint16, hook WriteHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if hook == nil {
		delete(d.hooks, index)
		return
	}
	d.hooks[index] = hook
}

// Lock takes the advisory lock for a multi-step access. It is not
// reentrant and does not block the typed accessors.
func (d *Dictionary) Lock() { d.access.Lock() }

// Unlock releases the advisory lock.
func (d *Dictionary) Unlock() { d.access.Unlock() }

// Read returns a copy of the entry as an external client sees it.
func (d *Dictionary) Read(index uint16, sub uint8) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, err := d.lookupLocked(index, sub)
	if err != nil {
		return nil, err
	}
	if e.Access == AccessWO {
		return nil, AbortWriteOnly
	}
	return bytes.Clone(e.data), nil
}

// Write performs an external write. The hook of the index may veto it;
// the returned error is then the AbortCode.
func (d *Dictionary) Write(index uint16, sub uint8, data []byte) error {
	d.mu.RLock()
	e, err := d.lookupLocked(index, sub)
	var hook WriteHook
	if err == nil {
		switch {
		case e.Access == AccessRO:
			err = AbortReadOnly
		case len(data) != e.Size:
			err = AbortTypeMismatch
		}
		hook = d.hooks[index]
	}
	d.mu.RUnlock()
	if err != nil {
		return err
	}

	if hook != nil {
		if code := hook(sub, data); code != AbortNone {
			return code
		}
	}

	d.mu.Lock()
	copy(e.data, data)
	notify := d.onWrite
	d.mu.Unlock()

	if notify != nil {
		notify(index, sub)
	}
	return nil
}

// lookupLocked maps a missing entry to the SDO abort code an external
// client expects.
func (d *Dictionary) lookupLocked(index uint16, sub uint8) (*entry, error) {
	if e, ok := d.entries[key{index, sub}]; ok {
		return e, nil
	}
	if d.hasIndexLocked(index) {
		return nil, AbortSubUnknown
	}
	return nil, AbortNotExist
}

func (d *Dictionary) hasIndexLocked(index uint16) bool {
	for k := range d.entries {
		if k.index == index {
			return true
		}
	}
	return false
}

func (d *Dictionary) get(index uint16, sub uint8, size int) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key{index, sub}]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key{index, sub}, ErrNotFound)
	}
	if e.Size != size {
		return nil, fmt.Errorf("%s is %d bytes, read as %d: %w", key{index, sub}, e.Size, size, ErrSizeMismatch)
	}
	return bytes.Clone(e.data), nil
}

func (d *Dictionary) set(index uint16, sub uint8, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key{index, sub}]
	if !ok {
		return fmt.Errorf("%s: %w", key{index, sub}, ErrNotFound)
	}
	if e.Size != len(data) {
		return fmt.Errorf("%s is %d bytes, written as %d: %w", key{index, sub}, e.Size, len(data), ErrSizeMismatch)
	}
	copy(e.data, data)
	return nil
}

// Uint8 reads a 1-byte entry.
func (d *Dictionary) Uint8(index uint16, sub uint8) (uint8, error) {
	b, err := d.get(index, sub, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// SetUint8 writes a 1-byte entry.
func (d *Dictionary) SetUint8(index uint16, sub uint8, v uint8) error {
	return d.set(index, sub, []byte{v})
}

// Int8 reads a 1-byte signed entry.
func (d *Dictionary) Int8(index uint16, sub uint8) (int8, error) {
	v, err := d.Uint8(index, sub)
	return int8(v), err
}

// SetInt8 writes a 1-byte signed entry.
func (d *Dictionary) SetInt8(index uint16, sub uint8, v int8) error {
	return d.SetUint8(index, sub, uint8(v))
}

// Uint16 reads a 2-byte entry.
func (d *Dictionary) Uint16(index uint16, sub uint8) (uint16, error) {
	b, err := d.get(index, sub, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// SetUint16 writes a 2-byte entry.
func (d *Dictionary) SetUint16(index uint16, sub uint8, v uint16) error {
	return d.set(index, sub, binary.LittleEndian.AppendUint16(nil, v))
}

// Int16 reads a 2-byte signed entry.
func (d *Dictionary) Int16(index uint16, sub uint8) (int16, error) {
	v, err := d.Uint16(index, sub)
	return int16(v), err
}

// SetInt16 writes a 2-byte signed entry.
func (d *Dictionary) SetInt16(index uint16, sub uint8, v int16) error {
	return d.SetUint16(index, sub, uint16(v))
}

// Uint32 reads a 4-byte entry.
func (d *Dictionary) Uint32(index uint16, sub uint8) (uint32, error) {
	b, err := d.get(index, sub, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// SetUint32 writes a 4-byte entry.
func (d *Dictionary) SetUint32(index uint16, sub uint8, v uint32) error {
	return d.set(index, sub, binary.LittleEndian.AppendUint32(nil, v))
}

// Int32 reads a 4-byte signed entry.
func (d *Dictionary) Int32(index uint16, sub uint8) (int32, error) {
	v, err := d.Uint32(index, sub)
	return int32(v), err
}

// SetInt32 writes a 4-byte signed entry.
func (d *Dictionary) SetInt32(index uint16, sub uint8, v int32) error {
	return d.SetUint32(index, sub, uint32(v))
}

// Uint64 reads an 8-byte entry.
func (d *Dictionary) Uint64(index uint16, sub uint8) (uint64, error) {
	b, err := d.get(index, sub, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// SetUint64 writes an 8-byte entry.
func (d *Dictionary) SetUint64(index uint16, sub uint8, v uint64) error {
	return d.set(index, sub, binary.LittleEndian.AppendUint64(nil, v))
}

// Int64 reads an 8-byte signed entry.
func (d *Dictionary) Int64(index uint16, sub uint8) (int64, error) {
	v, err := d.Uint64(index, sub)
	return int64(v), err
}

// SetInt64 writes an 8-byte signed entry.
func (d *Dictionary) SetInt64(index uint16, sub uint8, v int64) error {
	return d.SetUint64(index, sub, uint64(v))
}

// Float32 reads a 4-byte IEEE 754 entry.
func (d *Dictionary) Float32(index uint16, sub uint8) (float32, error) {
	v, err := d.Uint32(index, sub)
	return math.Float32frombits(v), err
}

// SetFloat32 writes a 4-byte IEEE 754 entry.
func (d *Dictionary) SetFloat32(index uint16, sub uint8, v float32) error {
	return d.SetUint32(index, sub, math.Float32bits(v))
}

// String reads a visible string entry up to its first NUL byte.
func (d *Dictionary) String(index uint16, sub uint8) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key{index, sub}]
	if !ok {
		return "", fmt.Errorf("%s: %w", key{index, sub}, ErrNotFound)
	}
	s := e.data
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s), nil
}

// SetString writes a visible string entry, padding it with NUL bytes.
func (d *Dictionary) SetString(index uint16, sub uint8, s string) error {
	size, err := d.Size(index, sub)
	if err != nil {
		return err
	}
	if len(s) > size {
		return fmt.Errorf("%s holds %d bytes, got %d: %w", key{index, sub}, size, len(s), ErrSizeMismatch)
	}
	data := make([]byte, size)
	copy(data, s)
	return d.set(index, sub, data)
}

// groupKeysLocked returns the keys of a storage group in index order.
func (d *Dictionary) groupKeysLocked(group string) []key {
	var keys []key
	for k, e := range d.entries {
		if e.Group == group {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].index != keys[j].index {
			return keys[i].index < keys[j].index
		}
		return keys[i].sub < keys[j].sub
	})
	return keys
}
