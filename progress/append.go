package progress

import (
	"errors"
	"time"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/fault"
)

var ErrNotAtStop = errors.New("train has not tripped its stop sensor; extension needs a stopped train")

// AppendRoute splices route id onto a train's route and returns the actions
// that are now due (only an Extension exposes any).
//
// now is the time of the grant; with Extension, TimeToStart becomes now+startDelay.
func (e *Engine) AppendRoute(t TrainID, id RouteID, mode Mode, startDelay time.Duration, now time.Time) ([]Element, error) {
	const op = "append route"
	s, err := e.activeSlot(t, op)
	if err != nil {
		return nil, err
	}
	route, err := e.conf.Routes.Route(id)
	if err != nil {
		if _, ok := fault.As(err); ok {
			return nil, err
		}
		return nil, fault.Inputf(op, "train %s: route %d: %w", t, id, err)
	}
	if err := route.Validate(); err != nil {
		return nil, fault.Configf(op, "route %d: %w", id, err)
	}
	stopped := s.NextToTrip == s.LastTripped
	switch mode {
	case Extension:
		if !stopped {
			return nil, fault.Inputf(op, "train %s: %w", t, ErrNotAtStop)
		}
	case Continuation:
		if stopped {
			return nil, fault.Inputf(op, "train %s: %w", t, ErrStopped)
		}
	default:
		return nil, fault.Inputf(op, "train %s: %s: %w", t, mode, ErrBadMode)
	}
	if err := s.checkBoundary(route); err != nil {
		return nil, fault.Configf(op, "train %s: route %d: %w", t, id, err)
	}

	lead := route.LeadingDirection()
	splice := s.buf.Prev(s.Head)
	if mode == Continuation && lead == Reverse {
		splice = s.Head
	}
	material := route.Elements[2:]
	if s.buf.Distance(splice, s.Tail) <= len(material) {
		return nil, fault.Capacityf(op, "train %s: route %d needs %d slots from %d with tail at %d: %w",
			t, id, len(material), splice, s.Tail, ErrOverflow)
	}

	// nothing has been mutated up to here
	if mode == Continuation && lead == Forward {
		if err := e.raiseCrawl(s); err != nil {
			return nil, fault.Configf(op, "train %s: %w", t, err)
		}
	}
	head := splice
	for _, el := range material {
		s.buf.Set(head, el)
		head = s.buf.Next(head)
	}
	s.buf.Set(head, End)
	s.Head = head

	var actions []Element
	if mode == Extension {
		old := s.NextToTrip
		next, ok := s.nextSensor(old)
		if !ok {
			return nil, fault.Configf(op, "train %s: route %d: %w", t, id, ErrNoSensor)
		}
		actions = s.actions(old, next)
		s.NextToTrip = next
		if s.NextToClear == s.Tail {
			s.NextToClear = next
		}
		s.timeToStart = now.Add(startDelay)
	}
	s.recomputeEnds()
	s.parked = false
	s.parkAtStop = route.Park
	zap.S().Debugw("appended route",
		"train", t, "route", id, "mode", mode, "head", s.Head, "stop", s.Stop, "actions", actions)
	return actions, nil
}

// finalBlock returns the last block element before the stop cursor.
func (s *slot) finalBlock() (int, bool) {
	for i := s.buf.Prev(s.Stop); ; i = s.buf.Prev(i) {
		if s.buf.At(i).IsBlock() {
			return i, true
		}
		if i == s.Tail || i == s.Head {
			return 0, false
		}
	}
}

func (s *slot) checkBoundary(route Route) error {
	bi, ok := s.finalBlock()
	if !ok {
		return ErrBoundary
	}
	have, _, _ := s.buf.At(bi).Block()
	want, _, _ := route.Elements[0].Block()
	if have != want || s.buf.At(s.Stop) != route.Elements[1] {
		return ErrBoundary
	}
	return nil
}

// raiseCrawl overwrites the velocity before the stop cursor with the nominal speed of the block being approached.
func (e *Engine) raiseCrawl(s *slot) error {
	bi, ok := s.finalBlock()
	if !ok {
		return ErrBoundary
	}
	vi := -1
	for i := s.buf.Prev(s.Stop); i != s.Crawl && i != s.Tail; i = s.buf.Prev(i) {
		if s.buf.At(i).IsVelocity() {
			vi = i
			break
		}
	}
	if vi == -1 {
		return ErrNoCrawl
	}
	id, f, _ := s.buf.At(bi).Block()
	l, err := e.conf.Layout.NominalSpeed(id, f)
	if err != nil {
		return err
	}
	s.buf.Set(vi, Speed(l))
	return nil
}

// nextSensor returns the first sensor strictly after i and before head.
func (s *slot) nextSensor(i int) (int, bool) {
	for j := s.buf.Next(i); j != s.Head; j = s.buf.Next(j) {
		if s.buf.At(j).IsSensor() {
			return j, true
		}
	}
	return 0, false
}

func actionable(el Element) bool {
	return el.IsTurnout() || el.IsDirection() || el.IsVelocity()
}

// actions returns the actionable elements strictly between from and to.
func (s *slot) actions(from, to int) []Element {
	var as []Element
	for j := s.buf.Next(from); j != to && j != s.Head; j = s.buf.Next(j) {
		if el := s.buf.At(j); actionable(el) {
			as = append(as, el)
		}
	}
	return as
}

// recomputeEnds sets stop, crawl, station and continuation to the 1st..4th sensor walking back from head.
func (s *slot) recomputeEnds() {
	var found [4]int
	n := 0
	for i := s.buf.Prev(s.Head); n < len(found); i = s.buf.Prev(i) {
		if s.buf.At(i).IsSensor() {
			found[n] = i
			n++
		}
		if i == s.Tail {
			break
		}
	}
	if n == 0 {
		panic("no sensor between tail and head")
	}
	for ; n < len(found); n++ {
		found[n] = found[n-1]
	}
	s.Stop, s.Crawl, s.Station, s.Continuation = found[0], found[1], found[2], found[3]
}
