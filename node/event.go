package node

import (
	"time"

	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/progress"
)

type EventKind string

const (
	// KindReset resets Train's slot, or every slot when Train is 0.
	KindReset EventKind = "reset"
	// KindRegister places Train in Block, stopped at the block's boundary sensor.
	KindRegister EventKind = "register"
	// KindGrant asks for Route to be granted to Train.
	KindGrant EventKind = "grant"
	KindTrip  EventKind = "trip"
	KindClear EventKind = "clear"
	// KindStatic places static equipment in Block.
	KindStatic EventKind = "static"
)

// Event is an externally-broadcast input. Every node applying the same events in the same order ends in the same state.
type Event struct {
	// Seq numbers events consecutively from 1.
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	Kind EventKind `json:"kind"`

	Train      TrainID       `json:"train,omitempty"`
	Block      Element       `json:"block"`
	Route      RouteID       `json:"route,omitempty"`
	Mode       progress.Mode `json:"mode,omitempty"`
	StartDelay time.Duration `json:"start-delay,omitempty"`
	Sensor     SensorID      `json:"sensor,omitempty"`
}

type Outcome string

const (
	Applied Outcome = "applied"
	Granted Outcome = "granted"
	Denied  Outcome = "denied"
)

// Result is what applying an Event did.
type Result struct {
	Event   Event   `json:"event"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	// Train is the train that tripped or cleared a sensor.
	Train   TrainID   `json:"train,omitempty"`
	Actions []Element `json:"actions,omitempty"`
	// Released are the blocks and turnouts released by a clear.
	Released []Element `json:"released,omitempty"`
}
