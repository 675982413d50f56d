package progress

import (
	"go.uber.org/zap"
	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/fault"
)

// Trip is the outcome of a sensor trip.
type Trip struct {
	Train  TrainID
	Sensor SensorID
	// From is the index of the tripped sensor; To is the new nextToTrip.
	// They are equal once the train has tripped its stop sensor.
	From, To int
	// Actions are the turnout, direction and velocity elements between From and To, in order.
	// Turnouts are to be thrown immediately; the rest go to the command scheduler.
	Actions []Element
	// Stopping is set when the tripped sensor is the stop cursor.
	Stopping bool
}

// Clear is the outcome of a sensor clear.
type Clear struct {
	Train            TrainID
	Sensor           SensorID
	OldTail, NewTail int
	// Vacated are the elements in (OldTail, NewTail].
	Vacated []Element
}

func (s *slot) tripArmed() bool { return s.active && s.NextToTrip != s.LastTripped }

func (s *slot) clearArmed() bool {
	if !s.active || s.NextToClear == s.Tail {
		return false
	}
	// only sensors the train has already tripped can clear
	return s.buf.Distance(s.Tail, s.NextToClear) <= s.buf.Distance(s.Tail, s.LastTripped)
}

// OnSensorTripped advances the one train whose nextToTrip cursor targets sensor.
// Anything else is a protocol fault.
func (e *Engine) OnSensorTripped(sensor SensorID) (Trip, error) {
	const op = "sensor tripped"
	t, err := e.match(sensor, op, func(s *slot) (int, bool) { return s.NextToTrip, s.tripArmed() })
	if err != nil {
		return Trip{}, err
	}
	s := &e.slots[t-1]
	old := s.NextToTrip
	s.LastTripped = old
	next, ok := s.nextSensor(old)
	if !ok {
		next = old
	}
	tr := Trip{
		Train:    t,
		Sensor:   sensor,
		From:     old,
		To:       next,
		Actions:  s.actions(old, next),
		Stopping: old == s.Stop,
	}
	s.NextToTrip = next
	if tr.Stopping && s.parkAtStop {
		s.parked = true
	}
	zap.S().Debugw("tripped", "train", t, "sensor", sensor, "from", old, "to", next, "actions", tr.Actions)
	return tr, nil
}

// OnSensorCleared moves the tail of the one train whose nextToClear cursor targets sensor.
func (e *Engine) OnSensorCleared(sensor SensorID) (Clear, error) {
	const op = "sensor cleared"
	t, err := e.match(sensor, op, func(s *slot) (int, bool) { return s.NextToClear, s.clearArmed() })
	if err != nil {
		return Clear{}, err
	}
	s := &e.slots[t-1]
	old := s.NextToClear
	c := Clear{Train: t, Sensor: sensor, OldTail: s.Tail, NewTail: old}
	for i := s.buf.Next(s.Tail); ; i = s.buf.Next(i) {
		c.Vacated = append(c.Vacated, s.buf.At(i))
		if i == old {
			break
		}
	}
	s.Tail = old
	if old != s.NextToTrip {
		if next, ok := s.nextSensor(old); ok {
			s.NextToClear = next
		}
	}
	zap.S().Debugw("cleared", "train", t, "sensor", sensor, "tail", s.Tail, "nextToClear", s.NextToClear)
	return c, nil
}

// match finds the single active train whose cursor (as chosen by cursor) targets sensor.
func (e *Engine) match(sensor SensorID, op string, cursor func(*slot) (int, bool)) (TrainID, error) {
	var found []TrainID
	for i := range e.slots {
		s := &e.slots[i]
		j, armed := cursor(s)
		if !armed {
			continue
		}
		if s.buf.At(j) == SensorAt(sensor) {
			found = append(found, TrainID(i+1))
		}
	}
	switch len(found) {
	case 0:
		return 0, fault.Protocolf(op, "sensor %d: %w", sensor, ErrNoCursor)
	case 1:
		return found[0], nil
	default:
		return 0, fault.Protocolf(op, "sensor %d: trains %v: %w", sensor, found, ErrAmbiguous)
	}
}
