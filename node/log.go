package node

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/shirei"
)

// Log appends events to w as JSON lines.
type Log struct {
	lock sync.Mutex
	w    io.Writer
}

func NewLog(w io.Writer) *Log {
	return &Log{w: w}
}

func (l *Log) Record(e Event) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(e); err != nil {
		return fmt.Errorf("log: encode: %w", err)
	}
	if _, err := io.Copy(l.w, buf); err != nil {
		return fmt.Errorf("log: write: %w", err)
	}
	return nil
}

// ReadLog reads every event written by a Log.
func ReadLog(r io.Reader) ([]Event, error) {
	var events []Event
	dec := json.NewDecoder(r)
	for {
		var e Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("log: event %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
}

// Actuator executes the actions the core exposes.
type Actuator interface {
	// Throw throws a turnout immediately.
	Throw(t TrainID, turnout TurnoutID, reverse bool)
	// Schedule hands a direction or velocity command to the command scheduler.
	Schedule(t TrainID, el Element, at time.Time)
}

// LogActuator only logs.
type LogActuator struct{}

func (LogActuator) Throw(t TrainID, turnout TurnoutID, reverse bool) {
	zap.S().Infow("throw", "train", t, "turnout", turnout, "reverse", reverse)
}

func (LogActuator) Schedule(t TrainID, el Element, at time.Time) {
	zap.S().Infow("schedule", "train", t, "command", el.String(), "at", at)
}
