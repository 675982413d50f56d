// Package deadlock decides whether granting a destination to a train risks gridlock.
//
// This is not cycle detection. Every destination has a record listing every
// siding ("threat") the train would need in order to later vacate the
// destination; the destination is safe when at least one threat is usable.
package deadlock

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/fault"
	"nyiyui.ca/hato/shirei/reserve"
)

// MaxThreats is the number of threats a record can hold.
const MaxThreats = 11

var (
	ErrNoRecord        = errors.New("no deadlock record for destination")
	ErrDuplicateRecord = errors.New("duplicate deadlock record for destination")
	ErrBadDestination  = errors.New("destination is not a block")
	ErrTooManyThreats  = errors.New("too many threats")
	ErrUnclassified    = errors.New("threat cannot be classified")
)

// Record lists the threats of a single destination.
type Record struct {
	Destination Element `json:"destination"`
	// Threats are terminated by End or by the end of the slice.
	Threats []Element `json:"threats"`
}

// threats returns the threats before the sentinel.
func (r Record) threats() []Element {
	if i := slices.Index(r.Threats, End); i != -1 {
		return r.Threats[:i]
	}
	return r.Threats
}

// Table holds exactly one Record per destination. It is never mutated after construction.
type Table struct {
	records []Record
}

func NewTable(records []Record) (*Table, error) {
	t := &Table{records: make([]Record, 0, len(records))}
	for i, r := range records {
		if !r.Destination.IsBlock() {
			return nil, fault.Configf("deadlock table", "record %d (%s): %w", i+1, r.Destination, ErrBadDestination)
		}
		if len(r.threats()) > MaxThreats {
			return nil, fault.Configf("deadlock table", "record %d (%s): %w", i+1, r.Destination, ErrTooManyThreats)
		}
		if _, ok := t.lookup(r.Destination); ok {
			return nil, fault.Configf("deadlock table", "record %d (%s): %w", i+1, r.Destination, ErrDuplicateRecord)
		}
		t.records = append(t.records, r)
	}
	return t, nil
}

func (t *Table) lookup(dest Element) (Record, bool) {
	i := slices.IndexFunc(t.records, func(r Record) bool { return r.Destination == dest })
	if i == -1 {
		return Record{}, false
	}
	return t.records[i], true
}

// Lookup returns the record for dest (matched by block id and direction).
func (t *Table) Lookup(dest Element) (Record, error) {
	r, ok := t.lookup(dest)
	if !ok {
		return Record{}, fault.Configf("deadlock lookup", "%s: %w", dest, ErrNoRecord)
	}
	return r, nil
}

func (t *Table) Len() int { return len(t.records) }

// Blocks is the part of the reservation table the check reads.
type Blocks interface {
	Length(BlockID) (uint32, error)
	Restriction(BlockID) (reserve.Restriction, error)
	Reservation(BlockID) (reserve.Reservation, error)
}

// Trains gives the physical attributes of a train.
type Trains interface {
	Length(TrainID) (uint32, error)
	Class(TrainID) (Class, error)
}

type Checker struct {
	Table  *Table
	Blocks Blocks
	Trains Trains
}

type verdict int

const (
	skip verdict = iota
	blocked
	escape
)

// WouldDeadlock reports whether occupying dest with train risks deadlock,
// i.e. whether no threat of dest offers an escape.
func (c *Checker) WouldDeadlock(dest Element, train TrainID) (bool, error) {
	rec, err := c.Table.Lookup(dest)
	if err != nil {
		return false, err
	}
	threats := rec.threats()
	if len(threats) == 0 {
		return false, nil
	}
	length, err := c.Trains.Length(train)
	if err != nil {
		return false, fault.Inputf("deadlock check", "train %s: %w", train, err)
	}
	class, err := c.Trains.Class(train)
	if err != nil {
		return false, fault.Inputf("deadlock check", "train %s: %w", train, err)
	}
	for i, threat := range threats {
		v, err := c.classify(threat, train, length, class)
		if err != nil {
			return false, fmt.Errorf("destination %s: threat %d: %w", dest, i, err)
		}
		if v == escape {
			return false, nil
		}
	}
	return true, nil
}

func (c *Checker) classify(threat Element, train TrainID, length uint32, class Class) (verdict, error) {
	id, facing, ok := threat.Block()
	if !ok {
		return 0, fault.Configf("deadlock check", "%s: %w", threat, ErrUnclassified)
	}
	blockLength, err := c.Blocks.Length(id)
	if err != nil {
		return 0, fault.Configf("deadlock check", "%s: %w", threat, err)
	}
	if length > blockLength {
		return skip, nil
	}
	restriction, err := c.Blocks.Restriction(id)
	if err != nil {
		return 0, fault.Configf("deadlock check", "%s: %w", threat, err)
	}
	if restriction.Forbids(class) {
		return skip, nil
	}
	res, err := c.Blocks.Reservation(id)
	if err != nil {
		return 0, fault.Configf("deadlock check", "%s: %w", threat, err)
	}
	switch {
	case res.Free(), !res.Static && res.Train == train:
		return escape, nil
	case res.Static, facing == Either:
		// TODO: static equipment is assumed to occupy both directions; revisit once it can be oriented
		return blocked, nil
	case res.Facing == facing.Opposite():
		// the occupant faces away and will vacate towards elsewhere
		return escape, nil
	default:
		return blocked, nil
	}
}
