// Package store reads and writes the persisted route and deadlock tables.
//
// Tables are arrays of fixed-size records; record i (1-based) of a table
// starting at base lives at base + (i-1)*size.
package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/buntdb"
	"nyiyui.ca/hato/shirei/fault"
)

var ErrNoRecord = errors.New("no record at address")

// RecordAddress returns the address of record index (1-based).
func RecordAddress(base uint32, index int, size int) (uint32, error) {
	if index < 1 {
		return 0, fault.Inputf("record address", "index %d: must be at least 1", index)
	}
	return base + uint32(index-1)*uint32(size), nil
}

// RecordStore is non-volatile, record-granular storage.
type RecordStore interface {
	ReadRecord(addr uint32, size int) ([]byte, error)
	WriteRecord(addr uint32, data []byte) error
}

// Bunt stores records in a buntdb database, one key per record.
type Bunt struct {
	db *buntdb.DB
}

// OpenBunt opens (or creates) the database at path. Use ":memory:" for a throwaway database.
func OpenBunt(path string) (*Bunt, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	var c buntdb.Config
	if err := db.ReadConfig(&c); err != nil {
		db.Close()
		return nil, err
	}
	c.SyncPolicy = buntdb.Always
	if err := db.SetConfig(c); err != nil {
		db.Close()
		return nil, err
	}
	return &Bunt{db: db}, nil
}

func (b *Bunt) Close() error { return b.db.Close() }

func recordKey(addr uint32) string { return fmt.Sprintf("rec:%08x", addr) }

func (b *Bunt) ReadRecord(addr uint32, size int) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(recordKey(addr))
		if errors.Is(err, buntdb.ErrNotFound) {
			return fmt.Errorf("%08x: %w", addr, ErrNoRecord)
		}
		if err != nil {
			return err
		}
		data, err = hex.DecodeString(value)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("%08x: %w: expected %d bytes, got %d", addr, ErrRecordSize, size, len(data))
	}
	return data, nil
}

func (b *Bunt) WriteRecord(addr uint32, data []byte) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(recordKey(addr), hex.EncodeToString(data), nil)
		return err
	})
}

// Mem is a RecordStore in memory.
type Mem struct {
	lock    sync.Mutex
	records map[uint32][]byte
}

func NewMem() *Mem {
	return &Mem{records: map[uint32][]byte{}}
}

func (m *Mem) ReadRecord(addr uint32, size int) ([]byte, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	data, ok := m.records[addr]
	if !ok {
		return nil, fmt.Errorf("%08x: %w", addr, ErrNoRecord)
	}
	if len(data) != size {
		return nil, fmt.Errorf("%08x: %w: expected %d bytes, got %d", addr, ErrRecordSize, size, len(data))
	}
	return append([]byte(nil), data...), nil
}

func (m *Mem) WriteRecord(addr uint32, data []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.records[addr] = append([]byte(nil), data...)
	return nil
}
