package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/deadlock"
)

const (
	// ElementSize is kind (1 byte) then number (big-endian uint16).
	ElementSize = 3
	// DeadlockSlots is the number of threat slots in a deadlock record, including the terminating sentinel.
	DeadlockSlots      = deadlock.MaxThreats + 1
	DeadlockRecordSize = ElementSize * (1 + DeadlockSlots)
	routeHeaderSize    = 2 + ElementSize + ElementSize + 1 + 1
	RouteRecordSize    = routeHeaderSize + ElementSize*MaxRouteElements
)

var (
	ErrBadKind    = errors.New("invalid element kind")
	ErrRecordSize = errors.New("record has wrong size")
)

func putElement(b []byte, e Element) {
	b[0] = byte(e.Kind)
	binary.BigEndian.PutUint16(b[1:], e.Number)
}

func readElement(b []byte) (Element, error) {
	e := Element{Kind: Kind(b[0]), Number: binary.BigEndian.Uint16(b[1:])}
	if !e.Kind.Valid() {
		return End, fmt.Errorf("%w: %d", ErrBadKind, b[0])
	}
	return e, nil
}

// readElements decodes up to n elements from b, stopping at the sentinel.
func readElements(b []byte, n int) ([]Element, error) {
	var es []Element
	for i := 0; i < n; i++ {
		e, err := readElement(b[i*ElementSize:])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if e.IsEnd() {
			break
		}
		es = append(es, e)
	}
	return es, nil
}

func EncodeDeadlock(r deadlock.Record) ([]byte, error) {
	threats := r.Threats
	for i, t := range threats {
		if t.IsEnd() {
			threats = threats[:i]
			break
		}
	}
	if len(threats) > deadlock.MaxThreats {
		return nil, fmt.Errorf("destination %s: %w (%d)", r.Destination, deadlock.ErrTooManyThreats, len(threats))
	}
	b := make([]byte, DeadlockRecordSize)
	putElement(b, r.Destination)
	for i, t := range threats {
		putElement(b[(1+i)*ElementSize:], t)
	}
	return b, nil
}

func DecodeDeadlock(b []byte) (deadlock.Record, error) {
	if len(b) != DeadlockRecordSize {
		return deadlock.Record{}, fmt.Errorf("deadlock record: %w (%d bytes)", ErrRecordSize, len(b))
	}
	dest, err := readElement(b)
	if err != nil {
		return deadlock.Record{}, fmt.Errorf("destination: %w", err)
	}
	threats, err := readElements(b[ElementSize:], DeadlockSlots)
	if err != nil {
		return deadlock.Record{}, fmt.Errorf("destination %s: threats: %w", dest, err)
	}
	return deadlock.Record{Destination: dest, Threats: threats}, nil
}

// EncodeRoute encodes a route that passes Validate.
// Decoding stops at the first sentinel, so a route containing one could not be read back whole.
func EncodeRoute(r Route) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, RouteRecordSize)
	binary.BigEndian.PutUint16(b, uint16(r.ID))
	putElement(b[2:], r.Origin)
	putElement(b[2+ElementSize:], r.Destination)
	if r.Park {
		b[2+2*ElementSize] = 1
	}
	b[3+2*ElementSize] = r.Priority
	for i, e := range r.Elements {
		putElement(b[routeHeaderSize+i*ElementSize:], e)
	}
	return b, nil
}

func DecodeRoute(b []byte) (Route, error) {
	if len(b) != RouteRecordSize {
		return Route{}, fmt.Errorf("route record: %w (%d bytes)", ErrRecordSize, len(b))
	}
	r := Route{ID: RouteID(binary.BigEndian.Uint16(b))}
	var err error
	r.Origin, err = readElement(b[2:])
	if err != nil {
		return Route{}, fmt.Errorf("route %d: origin: %w", r.ID, err)
	}
	r.Destination, err = readElement(b[2+ElementSize:])
	if err != nil {
		return Route{}, fmt.Errorf("route %d: destination: %w", r.ID, err)
	}
	r.Park = b[2+2*ElementSize] != 0
	r.Priority = b[3+2*ElementSize]
	r.Elements, err = readElements(b[routeHeaderSize:], MaxRouteElements)
	if err != nil {
		return Route{}, fmt.Errorf("route %d: %w", r.ID, err)
	}
	return r, nil
}
