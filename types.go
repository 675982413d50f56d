package shirei

import "fmt"

// TrainID references a single train slot.
// Only positive numbers are valid; 0 means no train.
type TrainID uint8

func (t TrainID) String() string {
	return fmt.Sprintf("<t:%d>", t)
}

type SensorID uint16

type BlockID uint16

type TurnoutID uint16

type RouteID uint16

// SpeedLevel is a commanded speed step.
type SpeedLevel uint8

const (
	SpeedStop SpeedLevel = iota
	SpeedCrawl
	SpeedLow
	SpeedMedium
	SpeedHigh
)

// Direction is the direction of travel relative to the locomotive.
type Direction uint8

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Facing is the direction a train occupies a block in.
// East corresponds to block side A, West to side B.
type Facing uint8

const (
	East Facing = iota
	West
	// Either is only used for destinations and threats.
	Either
)

// Opposite returns the other directional facing. Either is its own opposite.
func (f Facing) Opposite() Facing {
	switch f {
	case East:
		return West
	case West:
		return East
	default:
		return f
	}
}

func (f Facing) String() string {
	switch f {
	case East:
		return "east"
	case West:
		return "west"
	case Either:
		return "either"
	default:
		return fmt.Sprintf("facing(%d)", uint8(f))
	}
}

// Class is the passenger/freight class of a train.
type Class uint8

const (
	Passenger Class = iota
	Freight
)

// Kind tags an Element.
type Kind uint8

const (
	// KindEnd is the end-of-record sentinel. The zero Element is the sentinel.
	KindEnd Kind = iota
	KindSensor
	KindBlockEast
	KindBlockWest
	KindBlockEither
	KindTurnoutNormal
	KindTurnoutReverse
	KindDirForward
	KindDirReverse
	KindVelocity
	KindStation
	KindSensorClear
	kindCount
)

var kindNames = [...]string{
	KindEnd:            "end",
	KindSensor:         "sensor",
	KindBlockEast:      "block-east",
	KindBlockWest:      "block-west",
	KindBlockEither:    "block-either",
	KindTurnoutNormal:  "turnout-normal",
	KindTurnoutReverse: "turnout-reverse",
	KindDirForward:     "dir-forward",
	KindDirReverse:     "dir-reverse",
	KindVelocity:       "velocity",
	KindStation:        "station",
	KindSensorClear:    "sensor-clear",
}

func (k Kind) Valid() bool { return k < kindCount }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Element is a single unit of a route.
// Numbers are interpreted according to Kind (sensor id, block id, turnout id, speed level…).
type Element struct {
	Kind   Kind   `json:"kind"`
	Number uint16 `json:"number"`
}

// End is the end-of-record sentinel.
var End = Element{}

func SensorAt(s SensorID) Element { return Element{KindSensor, uint16(s)} }

func ClearAt(s SensorID) Element { return Element{KindSensorClear, uint16(s)} }

func StationAt(n uint16) Element { return Element{KindStation, n} }

func Speed(l SpeedLevel) Element { return Element{KindVelocity, uint16(l)} }

func BlockAt(b BlockID, f Facing) Element {
	switch f {
	case East:
		return Element{KindBlockEast, uint16(b)}
	case West:
		return Element{KindBlockWest, uint16(b)}
	case Either:
		return Element{KindBlockEither, uint16(b)}
	default:
		panic(fmt.Sprintf("invalid facing %d", f))
	}
}

// TurnoutAt returns a turnout element; reverse selects the diverging route.
func TurnoutAt(t TurnoutID, reverse bool) Element {
	if reverse {
		return Element{KindTurnoutReverse, uint16(t)}
	}
	return Element{KindTurnoutNormal, uint16(t)}
}

func Dir(d Direction) Element {
	if d == Reverse {
		return Element{KindDirReverse, 0}
	}
	return Element{KindDirForward, 0}
}

func (e Element) IsEnd() bool { return e.Kind == KindEnd }

func (e Element) IsSensor() bool { return e.Kind == KindSensor }

func (e Element) IsBlock() bool {
	return e.Kind == KindBlockEast || e.Kind == KindBlockWest || e.Kind == KindBlockEither
}

func (e Element) IsTurnout() bool {
	return e.Kind == KindTurnoutNormal || e.Kind == KindTurnoutReverse
}

func (e Element) IsDirection() bool {
	return e.Kind == KindDirForward || e.Kind == KindDirReverse
}

func (e Element) IsVelocity() bool { return e.Kind == KindVelocity }

func (e Element) Sensor() (SensorID, bool) {
	if e.Kind != KindSensor && e.Kind != KindSensorClear {
		return 0, false
	}
	return SensorID(e.Number), true
}

func (e Element) Block() (BlockID, Facing, bool) {
	switch e.Kind {
	case KindBlockEast:
		return BlockID(e.Number), East, true
	case KindBlockWest:
		return BlockID(e.Number), West, true
	case KindBlockEither:
		return BlockID(e.Number), Either, true
	default:
		return 0, 0, false
	}
}

// Turnout returns the turnout id and whether it is thrown to reverse.
func (e Element) Turnout() (id TurnoutID, reverse bool, ok bool) {
	switch e.Kind {
	case KindTurnoutNormal:
		return TurnoutID(e.Number), false, true
	case KindTurnoutReverse:
		return TurnoutID(e.Number), true, true
	default:
		return 0, false, false
	}
}

func (e Element) Speed() (SpeedLevel, bool) {
	if e.Kind != KindVelocity {
		return 0, false
	}
	return SpeedLevel(e.Number), true
}

func (e Element) Direction() (Direction, bool) {
	switch e.Kind {
	case KindDirForward:
		return Forward, true
	case KindDirReverse:
		return Reverse, true
	default:
		return 0, false
	}
}

func (e Element) String() string {
	switch e.Kind {
	case KindEnd:
		return "end"
	case KindDirForward, KindDirReverse:
		return e.Kind.String()
	case KindVelocity:
		return fmt.Sprintf("v%d", e.Number)
	case KindSensor:
		return fmt.Sprintf("s%d", e.Number)
	case KindBlockEast:
		return fmt.Sprintf("E%02d", e.Number)
	case KindBlockWest:
		return fmt.Sprintf("W%02d", e.Number)
	case KindBlockEither:
		return fmt.Sprintf("EW%02d", e.Number)
	default:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Number)
	}
}
