package progress_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/fault"
	"nyiyui.ca/hato/shirei/layout"
	"nyiyui.ca/hato/shirei/progress"
	"nyiyui.ca/hato/shirei/reserve"
)

type catalog map[RouteID]Route

func (c catalog) Route(id RouteID) (Route, error) {
	r, ok := c[id]
	if !ok {
		return Route{}, fmt.Errorf("route %d not found", id)
	}
	return r, nil
}

var t0 = time.Date(2023, 7, 14, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, capacity int) *progress.Engine {
	t.Helper()
	y, err := layout.InitTestbench1()
	if err != nil {
		t.Fatalf("InitTestbench1: %s", err)
	}
	blocks, err := reserve.NewTable(y.Blocks, y.Turnouts)
	if err != nil {
		t.Fatalf("reserve.NewTable: %s", err)
	}
	c := catalog{}
	for _, r := range y.Routes {
		c[r.ID] = r
	}
	e, err := progress.New(progress.Conf{Trains: 8, Capacity: capacity, Layout: blocks, Routes: c})
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	return e
}

func checkAll(t *testing.T, e *progress.Engine) {
	t.Helper()
	for _, r := range e.Snapshot() {
		if err := r.CheckInvariants(); err != nil {
			t.Fatalf("CheckInvariants: %s", err)
		}
	}
}

func register(t *testing.T, e *progress.Engine, train TrainID, block Element) {
	t.Helper()
	if err := e.SetInitialLocation(train, block); err != nil {
		t.Fatalf("SetInitialLocation(%s, %s): %s", train, block, err)
	}
	checkAll(t, e)
}

func mustAppend(t *testing.T, e *progress.Engine, train TrainID, id RouteID, mode progress.Mode) []Element {
	t.Helper()
	actions, err := e.AppendRoute(train, id, mode, 2*time.Second, t0)
	if err != nil {
		t.Fatalf("AppendRoute(%s, %d, %s): %s", train, id, mode, err)
	}
	checkAll(t, e)
	return actions
}

func mustTrip(t *testing.T, e *progress.Engine, s SensorID) progress.Trip {
	t.Helper()
	tr, err := e.OnSensorTripped(s)
	if err != nil {
		t.Fatalf("OnSensorTripped(%d): %s", s, err)
	}
	checkAll(t, e)
	return tr
}

func mustClear(t *testing.T, e *progress.Engine, s SensorID) progress.Clear {
	t.Helper()
	c, err := e.OnSensorCleared(s)
	if err != nil {
		t.Fatalf("OnSensorCleared(%d): %s", s, err)
	}
	checkAll(t, e)
	return c
}

func mustCursors(t *testing.T, e *progress.Engine, train TrainID) progress.Cursors {
	t.Helper()
	c, err := e.Cursors(train)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSetInitialLocation(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	r, err := e.Record(7)
	if err != nil {
		t.Fatal(err)
	}
	want := progress.Cursors{
		Head: 7, NextToTrip: 5, NextToClear: 5, Tail: 2,
		Continuation: 2, Station: 2, Crawl: 2, Stop: 5, LastTripped: 5,
	}
	if diff := cmp.Diff(want, r.Cursors); diff != "" {
		t.Fatalf("cursors (-want +got):\n%s", diff)
	}
	seed := []Element{Speed(0), Dir(Forward), SensorAt(0), Speed(0), BlockAt(4, East), SensorAt(8), Speed(0), End}
	if diff := cmp.Diff(seed, r.Elements[:len(seed)]); diff != "" {
		t.Fatalf("seed (-want +got):\n%s", diff)
	}
	if len(r.Elements) != progress.DefaultCapacity {
		t.Fatalf("capacity: expected %d, got %d", progress.DefaultCapacity, len(r.Elements))
	}
	if !r.Active || r.Parked {
		t.Fatalf("expected active and not parked: %#v", r)
	}

	register(t, e, 3, BlockAt(15, West))
	r, _ = e.Record(3)
	if !r.Parked {
		t.Fatal("15 is a parking siding")
	}
	if r.Elements[5] != SensorAt(29) {
		t.Fatalf("boundary: expected s29, got %s", r.Elements[5])
	}
}

func TestSetInitialLocationErrors(t *testing.T) {
	e := newEngine(t, 0)
	for i, s := range []struct {
		name  string
		train TrainID
		block Element
		class fault.Class
	}{
		{"no train", 0, BlockAt(4, East), fault.Input},
		{"train out of range", 9, BlockAt(4, East), fault.Input},
		{"unknown block", 1, BlockAt(99, East), fault.Input},
		{"either", 1, BlockAt(4, Either), fault.Input},
		{"sensor", 1, SensorAt(8), fault.Input},
	} {
		t.Run(fmt.Sprintf("%d-%s", i, s.name), func(t *testing.T) {
			err := e.SetInitialLocation(s.train, s.block)
			if fault.ClassOf(err) != s.class {
				t.Fatalf("expected %s fault, got %v", s.class, err)
			}
		})
	}
}

func TestResetSlot(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	if err := e.ResetSlot(7); err != nil {
		t.Fatal(err)
	}
	r, _ := e.Record(7)
	if r.Active || r.Cursors != (progress.Cursors{}) {
		t.Fatalf("expected empty slot: %#v", r.Cursors)
	}
	for i, el := range r.Elements {
		if !el.IsEnd() {
			t.Fatalf("element %d: expected end, got %s", i, el)
		}
	}
	if _, err := e.OnSensorTripped(10); !errors.Is(err, progress.ErrNoCursor) {
		t.Fatalf("inactive slots must not match: %v", err)
	}
}

func TestExtension(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	actions := mustAppend(t, e, 7, 1, progress.Extension)
	if diff := cmp.Diff([]Element{Dir(Forward), Speed(SpeedMedium), TurnoutAt(1, false)}, actions); diff != "" {
		t.Fatalf("actions (-want +got):\n%s", diff)
	}
	want := progress.Cursors{
		Head: 19, NextToTrip: 10, NextToClear: 5, Tail: 2,
		Continuation: 10, Station: 12, Crawl: 14, Stop: 17, LastTripped: 5,
	}
	if diff := cmp.Diff(want, mustCursors(t, e, 7)); diff != "" {
		t.Fatalf("cursors (-want +got):\n%s", diff)
	}
	r, _ := e.Record(7)
	if !r.TimeToStart.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("TimeToStart: %s", r.TimeToStart)
	}
	if r.Elements[18] != Speed(SpeedStop) || !r.Elements[19].IsEnd() {
		t.Fatalf("expected trailing stop then end: %s %s", r.Elements[18], r.Elements[19])
	}
}

func TestExtensionWhileMoving(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	mustAppend(t, e, 7, 1, progress.Extension)
	_, err := e.AppendRoute(7, 2, progress.Extension, 0, t0)
	if !errors.Is(err, progress.ErrNotAtStop) || fault.ClassOf(err) != fault.Input {
		t.Fatalf("expected input fault %s, got %v", progress.ErrNotAtStop, err)
	}
}

func TestContinuationForward(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	mustAppend(t, e, 7, 1, progress.Extension)
	mustTrip(t, e, 10)
	before, _ := e.Record(7)
	if before.Elements[15] != Speed(SpeedCrawl) {
		t.Fatalf("expected crawl before E08, got %s", before.Elements[15])
	}
	actions := mustAppend(t, e, 7, 2, progress.Continuation)
	if len(actions) != 0 {
		t.Fatalf("continuation exposes no actions, got %v", actions)
	}
	after, _ := e.Record(7)
	// E08 eastbound runs at high speed
	if after.Elements[15] != Speed(SpeedHigh) {
		t.Fatalf("expected crawl overwritten with v4, got %s", after.Elements[15])
	}
	if after.Elements[18] != Dir(Forward) {
		t.Fatalf("expected trailing stop overwritten, got %s", after.Elements[18])
	}
	want := progress.Cursors{
		Head: 31, NextToTrip: 12, NextToClear: 5, Tail: 2,
		Continuation: 22, Station: 24, Crawl: 26, Stop: 29, LastTripped: 10,
	}
	if diff := cmp.Diff(want, after.Cursors); diff != "" {
		t.Fatalf("cursors (-want +got):\n%s", diff)
	}
	if !after.TimeToStart.Equal(before.TimeToStart) {
		t.Fatal("continuation must not touch TimeToStart")
	}

	mustTrip(t, e, 12)
	mustTrip(t, e, 14)
	tr := mustTrip(t, e, 16)
	if tr.Stopping {
		t.Fatal("16 is no longer the stop")
	}
	if diff := cmp.Diff([]Element{Dir(Forward), Speed(SpeedMedium), TurnoutAt(2, false)}, tr.Actions); diff != "" {
		t.Fatalf("actions (-want +got):\n%s", diff)
	}
}

func TestContinuationReverse(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	mustAppend(t, e, 7, 1, progress.Extension)
	mustTrip(t, e, 10)
	mustAppend(t, e, 7, 3, progress.Continuation)
	r, _ := e.Record(7)
	if r.Elements[15] != Speed(SpeedCrawl) {
		t.Fatalf("crawl must be kept, got %s", r.Elements[15])
	}
	if r.Elements[18] != Speed(SpeedStop) {
		t.Fatalf("final stop must be kept, got %s", r.Elements[18])
	}
	if r.Elements[19] != Dir(Reverse) {
		t.Fatalf("expected route to start after the stop, got %s", r.Elements[19])
	}
	if c := r.Cursors; c.Head != 32 || c.Stop != 30 {
		t.Fatalf("cursors: %#v", c)
	}

	mustTrip(t, e, 12)
	mustTrip(t, e, 14)
	tr := mustTrip(t, e, 16)
	if diff := cmp.Diff([]Element{Speed(SpeedStop), Dir(Reverse), Speed(SpeedLow)}, tr.Actions); diff != "" {
		t.Fatalf("actions (-want +got):\n%s", diff)
	}
	tr = mustTrip(t, e, 13)
	if diff := cmp.Diff([]Element{TurnoutAt(2, true)}, tr.Actions); diff != "" {
		t.Fatalf("actions (-want +got):\n%s", diff)
	}
	mustTrip(t, e, 25)
	mustTrip(t, e, 27)
	tr = mustTrip(t, e, 29)
	if !tr.Stopping {
		t.Fatal("expected stop")
	}
	r, _ = e.Record(7)
	if !r.Parked {
		t.Fatal("route 3 parks")
	}
}

func TestContinuationWhenStopped(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	_, err := e.AppendRoute(7, 1, progress.Continuation, 0, t0)
	if !errors.Is(err, progress.ErrStopped) || fault.ClassOf(err) != fault.Input {
		t.Fatalf("expected input fault %s, got %v", progress.ErrStopped, err)
	}
}

func TestAppendErrors(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	before, _ := e.Record(7)
	for i, s := range []struct {
		name  string
		train TrainID
		route RouteID
		mode  progress.Mode
		err   error
		class fault.Class
	}{
		{"inactive", 2, 1, progress.Extension, progress.ErrInactive, fault.Input},
		{"mode", 7, 1, progress.Mode(9), progress.ErrBadMode, fault.Input},
		{"boundary", 7, 2, progress.Extension, progress.ErrBoundary, fault.Config},
	} {
		t.Run(fmt.Sprintf("%d-%s", i, s.name), func(t *testing.T) {
			_, err := e.AppendRoute(s.train, s.route, s.mode, 0, t0)
			if !errors.Is(err, s.err) || fault.ClassOf(err) != s.class {
				t.Fatalf("expected %s fault %s, got %v", s.class, s.err, err)
			}
		})
	}
	if _, err := e.AppendRoute(7, 42, progress.Extension, 0, t0); fault.ClassOf(err) != fault.Input {
		t.Fatalf("unknown route: expected input fault, got %v", err)
	}
	after, _ := e.Record(7)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("failed appends must not mutate (-before +after):\n%s", diff)
	}
}

func TestOverflow(t *testing.T) {
	// room for the seed only
	e := newEngine(t, 16)
	register(t, e, 7, BlockAt(4, East))
	before, _ := e.Record(7)
	_, err := e.AppendRoute(7, 1, progress.Extension, 0, t0)
	if !errors.Is(err, progress.ErrOverflow) || fault.ClassOf(err) != fault.Capacity {
		t.Fatalf("expected capacity fault, got %v", err)
	}
	after, _ := e.Record(7)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("overflow must not mutate (-before +after):\n%s", diff)
	}
}

func TestWrapAround(t *testing.T) {
	// 2 routes of 13 elements do not fit in 24 slots without wrapping
	e := newEngine(t, 24)
	register(t, e, 7, BlockAt(4, East))
	mustAppend(t, e, 7, 1, progress.Extension)
	for _, s := range []SensorID{10, 12} {
		mustTrip(t, e, s)
	}
	for _, s := range []SensorID{8, 10} {
		mustClear(t, e, s)
	}
	mustAppend(t, e, 7, 2, progress.Continuation)
	c := mustCursors(t, e, 7)
	if c.Head >= 18 {
		t.Fatalf("expected head to wrap, got %d", c.Head)
	}
	for _, s := range []SensorID{14, 16, 18, 20, 22} {
		mustTrip(t, e, s)
	}
	tr := mustTrip(t, e, 24)
	if !tr.Stopping || tr.Actions[len(tr.Actions)-1] != Speed(SpeedStop) {
		t.Fatalf("expected stop: %#v", tr)
	}
}

func TestTripAndClear(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	mustAppend(t, e, 7, 1, progress.Extension)

	tr := mustTrip(t, e, 10)
	if tr.Train != 7 || tr.From != 10 || tr.To != 12 || len(tr.Actions) != 0 {
		t.Fatalf("trip: %#v", tr)
	}
	c := mustClear(t, e, 8)
	want := progress.Clear{
		Train: 7, Sensor: 8, OldTail: 2, NewTail: 5,
		Vacated: []Element{Speed(0), BlockAt(4, East), SensorAt(8)},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Fatalf("clear (-want +got):\n%s", diff)
	}
	if got := mustCursors(t, e, 7).NextToClear; got != 10 {
		t.Fatalf("nextToClear: expected 10, got %d", got)
	}
	// 12 has not been tripped yet
	if _, err := e.OnSensorCleared(12); !errors.Is(err, progress.ErrNoCursor) {
		t.Fatalf("expected %s, got %v", progress.ErrNoCursor, err)
	}
	mustTrip(t, e, 12)
	tr = mustTrip(t, e, 14)
	if diff := cmp.Diff([]Element{Speed(SpeedCrawl)}, tr.Actions); diff != "" {
		t.Fatalf("actions (-want +got):\n%s", diff)
	}
	tr = mustTrip(t, e, 16)
	if !tr.Stopping || tr.From != 17 || tr.To != 17 {
		t.Fatalf("trip: %#v", tr)
	}
	if diff := cmp.Diff([]Element{Speed(SpeedStop)}, tr.Actions); diff != "" {
		t.Fatalf("actions (-want +got):\n%s", diff)
	}
	// the stop sensor is tripped only once
	if _, err := e.OnSensorTripped(16); !errors.Is(err, progress.ErrNoCursor) {
		t.Fatalf("expected %s, got %v", progress.ErrNoCursor, err)
	}
	for _, s := range []SensorID{10, 12, 14, 16} {
		mustClear(t, e, s)
	}
	got := mustCursors(t, e, 7)
	if got.Tail != 17 || got.NextToClear != 17 {
		t.Fatalf("expected everything cleared: %#v", got)
	}
	// extending afterwards rearms the clear cursor
	mustAppend(t, e, 7, 2, progress.Extension)
	got = mustCursors(t, e, 7)
	if got.NextToClear != got.NextToTrip {
		t.Fatalf("expected nextToClear at nextToTrip: %#v", got)
	}
}

func TestUnmatchedTrip(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	mustAppend(t, e, 7, 1, progress.Extension)
	before := e.Snapshot()
	for _, s := range []SensorID{99, 12, 8} {
		_, err := e.OnSensorTripped(s)
		if !errors.Is(err, progress.ErrNoCursor) || fault.ClassOf(err) != fault.Protocol {
			t.Fatalf("sensor %d: expected protocol fault, got %v", s, err)
		}
	}
	if _, err := e.OnSensorCleared(99); fault.ClassOf(err) != fault.Protocol {
		t.Fatalf("expected protocol fault, got %v", err)
	}
	if diff := cmp.Diff(before, e.Snapshot()); diff != "" {
		t.Fatalf("unmatched events must not mutate (-before +after):\n%s", diff)
	}
}

func TestAmbiguousTrip(t *testing.T) {
	e := newEngine(t, 0)
	for _, train := range []TrainID{3, 7} {
		register(t, e, train, BlockAt(4, East))
		mustAppend(t, e, train, 1, progress.Extension)
	}
	_, err := e.OnSensorTripped(10)
	if !errors.Is(err, progress.ErrAmbiguous) || fault.ClassOf(err) != fault.Protocol {
		t.Fatalf("expected protocol fault %s, got %v", progress.ErrAmbiguous, err)
	}
}

func TestRepeatedSensors(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	mustAppend(t, e, 7, 4, progress.Extension)
	for i, s := range []struct {
		sensor  SensorID
		from    int
		actions []Element
	}{
		{10, 9, []Element{Speed(SpeedCrawl)}},
		{12, 12, []Element{Speed(SpeedStop), Dir(Reverse), Speed(SpeedLow), TurnoutAt(3, true)}},
		{10, 18, []Element{Speed(SpeedCrawl)}},
		{25, 21, []Element{Speed(SpeedStop), Dir(Forward), Speed(SpeedLow), TurnoutAt(3, true)}},
		{10, 27, []Element{Speed(SpeedCrawl)}},
		{12, 30, []Element{Speed(SpeedStop)}},
	} {
		tr := mustTrip(t, e, s.sensor)
		if tr.From != s.from {
			t.Fatalf("trip %d (s%d): expected index %d, got %d", i, s.sensor, s.from, tr.From)
		}
		if diff := cmp.Diff(s.actions, tr.Actions); diff != "" {
			t.Fatalf("trip %d (s%d): actions (-want +got):\n%s", i, s.sensor, diff)
		}
	}
	// clears follow the same indices
	for i, s := range []struct {
		sensor SensorID
		tail   int
	}{{8, 5}, {10, 9}, {12, 12}, {10, 18}} {
		c := mustClear(t, e, s.sensor)
		if c.NewTail != s.tail {
			t.Fatalf("clear %d (s%d): expected tail %d, got %d", i, s.sensor, s.tail, c.NewTail)
		}
	}
}

func TestRecursAhead(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	mustAppend(t, e, 7, 4, progress.Extension)
	for i, s := range []struct {
		name string
		f    func() (bool, error)
		want bool
	}{
		{"E05 returns", func() (bool, error) { return e.BlockRecursAhead(7, 5, 9) }, true},
		{"E04 is behind", func() (bool, error) { return e.BlockRecursAhead(7, 4, 5) }, false},
		{"W13 at 20", func() (bool, error) { return e.BlockRecursAhead(7, 13, 20) }, true},
		{"W13 passed", func() (bool, error) { return e.BlockRecursAhead(7, 13, 21) }, false},
		{"T3 thrown twice", func() (bool, error) { return e.TurnoutRecursAhead(7, 3, 17) }, true},
		{"T3 last", func() (bool, error) { return e.TurnoutRecursAhead(7, 3, 26) }, false},
		{"T1 never", func() (bool, error) { return e.TurnoutRecursAhead(7, 1, 2) }, false},
	} {
		t.Run(fmt.Sprintf("%d-%s", i, s.name), func(t *testing.T) {
			before := e.Snapshot()
			for j := 0; j < 2; j++ {
				got, err := s.f()
				if err != nil {
					t.Fatal(err)
				}
				if got != s.want {
					t.Fatalf("call %d: expected %t, got %t", j, s.want, got)
				}
			}
			if diff := cmp.Diff(before, e.Snapshot()); diff != "" {
				t.Fatalf("lookahead must not mutate (-before +after):\n%s", diff)
			}
		})
	}
	if _, err := e.BlockRecursAhead(7, 5, 1000); !errors.Is(err, progress.ErrBadIndex) {
		t.Fatalf("expected %s, got %v", progress.ErrBadIndex, err)
	}
}

func TestRecursAheadOutsideWindow(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	mustAppend(t, e, 7, 1, progress.Extension)
	c := mustCursors(t, e, 7)
	for _, from := range []int{100, c.Head, e.Trains() + 200, c.Tail - 1} {
		_, err := e.BlockRecursAhead(7, 4, from)
		if !errors.Is(err, progress.ErrBadIndex) || fault.ClassOf(err) != fault.Input {
			t.Fatalf("from %d: expected input fault %s, got %v", from, progress.ErrBadIndex, err)
		}
		_, err = e.TurnoutRecursAhead(7, 1, from)
		if !errors.Is(err, progress.ErrBadIndex) {
			t.Fatalf("from %d: expected %s, got %v", from, progress.ErrBadIndex, err)
		}
	}
	// the stop cursor itself is still in range
	if _, err := e.BlockRecursAhead(7, 8, c.Stop); err != nil {
		t.Fatalf("from stop: %s", err)
	}
}

func TestSetters(t *testing.T) {
	e := newEngine(t, 0)
	register(t, e, 7, BlockAt(4, East))
	at := t0.Add(time.Minute)
	if err := e.SetSpeed(7, SpeedLow, at); err != nil {
		t.Fatal(err)
	}
	if err := e.SetSpeed(7, SpeedHigh+1, at); fault.ClassOf(err) != fault.Input {
		t.Fatalf("expected input fault, got %v", err)
	}
	if err := e.SetStopped(7, false, at); err != nil {
		t.Fatal(err)
	}
	if err := e.SetStopped(7, true, at.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	r, _ := e.Record(7)
	if r.CurrentSpeed != SpeedLow || !r.CurrentSpeedTime.Equal(at) {
		t.Fatalf("speed: %d at %s", r.CurrentSpeed, r.CurrentSpeedTime)
	}
	if !r.Stopped || !r.TimeStopped.Equal(at.Add(time.Second)) {
		t.Fatalf("stopped: %t at %s", r.Stopped, r.TimeStopped)
	}
	if err := e.SetSpeed(2, SpeedLow, at); !errors.Is(err, progress.ErrInactive) {
		t.Fatalf("expected %s, got %v", progress.ErrInactive, err)
	}
}
