// Package fault classifies invariant violations detected by the movement-authority core.
//
// Every fault is fatal: core packages return them as errors and exactly one
// top-level handler turns them into a halt of the node.
package fault

import (
	"errors"
	"fmt"
)

type Class int

const (
	// Config is missing/duplicate table records or malformed routes.
	Config Class = iota + 1
	// Capacity is a ring buffer overflow.
	Capacity
	// Protocol is a sensor event that matches no cursor, or an out-of-order event.
	Protocol
	// Input is an out-of-range train, block, speed or an operation invalid in the current state.
	Input
)

func (c Class) String() string {
	switch c {
	case Config:
		return "config"
	case Capacity:
		return "capacity"
	case Protocol:
		return "protocol"
	case Input:
		return "input"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Fault is a fatal invariant violation.
type Fault struct {
	Class Class
	// Op is the operation that detected the fault.
	Op  string
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault: %s: %s", f.Class, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func newf(c Class, op, format string, a ...any) error {
	return &Fault{Class: c, Op: op, Err: fmt.Errorf(format, a...)}
}

func Configf(op, format string, a ...any) error { return newf(Config, op, format, a...) }

func Capacityf(op, format string, a ...any) error { return newf(Capacity, op, format, a...) }

func Protocolf(op, format string, a ...any) error { return newf(Protocol, op, format, a...) }

func Inputf(op, format string, a ...any) error { return newf(Input, op, format, a...) }

// As returns the Fault in err's chain, if any.
func As(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ClassOf returns the class of the fault in err's chain, or 0 if there is none.
func ClassOf(err error) Class {
	f, ok := As(err)
	if !ok {
		return 0
	}
	return f.Class
}
