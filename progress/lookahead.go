package progress

import (
	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/fault"
)

// BlockRecursAhead reports whether block appears anywhere from index from up to and including the stop cursor.
// from must lie between the tail and stop cursors.
// A block that does not recur may be released once the tail has passed it.
func (e *Engine) BlockRecursAhead(t TrainID, block BlockID, from int) (bool, error) {
	return e.recursAhead(t, from, "block recurs ahead", func(el Element) bool {
		id, _, ok := el.Block()
		return ok && id == block
	})
}

// TurnoutRecursAhead is BlockRecursAhead for turnouts.
func (e *Engine) TurnoutRecursAhead(t TrainID, turnout TurnoutID, from int) (bool, error) {
	return e.recursAhead(t, from, "turnout recurs ahead", func(el Element) bool {
		id, _, ok := el.Turnout()
		return ok && id == turnout
	})
}

func (e *Engine) recursAhead(t TrainID, from int, op string, is func(Element) bool) (bool, error) {
	s, err := e.activeSlot(t, op)
	if err != nil {
		return false, err
	}
	if from < 0 || from >= s.buf.Cap() {
		return false, fault.Inputf(op, "train %s: index %d: %w", t, from, ErrBadIndex)
	}
	// slots outside tail..stop are stale
	if s.buf.Distance(s.Tail, from) > s.buf.Distance(s.Tail, s.Stop) {
		return false, fault.Inputf(op, "train %s: index %d outside %d..%d: %w", t, from, s.Tail, s.Stop, ErrBadIndex)
	}
	for i := from; i != s.Head; i = s.buf.Next(i) {
		if is(s.buf.At(i)) {
			return true, nil
		}
		if i == s.Stop {
			break
		}
	}
	return false, nil
}
