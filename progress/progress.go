// Package progress tracks each train's progress along the routes it has been granted.
//
// Every train slot holds a ring buffer of Elements and nine cursors into it.
// Cursors are ring indices, never sensor ids: the same sensor may appear at
// several cursors at once (e.g. a route that backs into a siding and pulls
// back out trips the same sensor twice).
//
// Cyclically, for an active train:
//
//	tail ≤ nextToClear ≤ nextToTrip ≤ head
//	continuation ≤ station ≤ crawl ≤ stop < head
//
// The Engine is not safe for concurrent use. All mutation happens
// synchronously within the handling of a single event.
package progress

import (
	"errors"
	"fmt"
	"time"

	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/fault"
	"nyiyui.ca/hato/shirei/ring"
)

const (
	DefaultCapacity = 256
	DefaultTrains   = 10
)

var (
	ErrBadTrain    = errors.New("train id out of range")
	ErrInactive    = errors.New("train slot not active")
	ErrNotBlock    = errors.New("not a directional block")
	ErrOverflow    = errors.New("ring buffer overflow")
	ErrNoCursor    = errors.New("no train's cursor targets sensor")
	ErrAmbiguous   = errors.New("several trains' cursors target sensor")
	ErrBoundary    = errors.New("route does not start where the train's route ends")
	ErrNoCrawl     = errors.New("no velocity before stop")
	ErrStopped     = errors.New("train already stopped; continuation needs a moving train")
	ErrBadMode     = errors.New("unknown append mode")
	ErrBadIndex    = errors.New("ring index out of range")
	ErrBadSpeed    = errors.New("speed level out of range")
	ErrNoSensor    = errors.New("no sensor in route material")
	ErrInvariant   = errors.New("cursor invariant violated")
	ErrSmallBuffer = errors.New("ring capacity too small for the seed")
)

// Mode says how a route is spliced onto a train's existing route.
type Mode int

const (
	// Extension is appended while the train is stopped at its stop cursor.
	Extension Mode = iota + 1
	// Continuation is appended while the train is moving and will not stop before the new route begins.
	Continuation
)

func (m Mode) String() string {
	switch m {
	case Extension:
		return "extension"
	case Continuation:
		return "continuation"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Layout is the part of the reservation table the engine reads.
type Layout interface {
	Boundary(BlockID, Facing) (SensorID, error)
	IsParking(BlockID) (bool, error)
	NominalSpeed(BlockID, Facing) (SpeedLevel, error)
}

// Routes looks up routes by id.
type Routes interface {
	Route(RouteID) (Route, error)
}

type Conf struct {
	// Trains is the number of train slots; train ids are 1..Trains.
	Trains int
	// Capacity of each train's ring buffer.
	Capacity int
	Layout   Layout
	Routes   Routes
}

// Cursors are indices into a train's ring buffer.
type Cursors struct {
	// Head is the first free slot.
	Head int
	// NextToTrip is the next sensor not yet tripped. It equals LastTripped once the train has tripped its stop sensor.
	NextToTrip int
	// NextToClear is the sensor expected to clear next.
	NextToClear int
	// Tail is the most recently cleared sensor (the rear of the train).
	Tail int
	// Continuation, Station, Crawl and Stop are the 4th-, 3rd-, 2nd- and 1st-from-last sensors of the current route.
	Continuation int
	Station      int
	Crawl        int
	Stop         int
	// LastTripped is the sensor most recently tripped (the element the train currently occupies).
	LastTripped int
}

// seedCursors are the cursors implied by the registration seed.
var seedCursors = Cursors{
	Head:         7,
	NextToTrip:   5,
	NextToClear:  5,
	Tail:         2,
	Continuation: 2,
	Station:      2,
	Crawl:        2,
	Stop:         5,
	LastTripped:  5,
}

type slot struct {
	buf    *ring.Buffer[Element]
	active bool
	parked bool
	// parkAtStop is set when the current route ends in a parking siding.
	parkAtStop       bool
	stopped          bool
	timeStopped      time.Time
	timeToStart      time.Time
	currentSpeed     SpeedLevel
	currentSpeedTime time.Time
	Cursors
}

type Engine struct {
	conf  Conf
	slots []slot
}

func New(conf Conf) (*Engine, error) {
	if conf.Trains == 0 {
		conf.Trains = DefaultTrains
	}
	if conf.Capacity == 0 {
		conf.Capacity = DefaultCapacity
	}
	if conf.Capacity <= seedCursors.Head {
		return nil, fmt.Errorf("capacity %d: %w", conf.Capacity, ErrSmallBuffer)
	}
	if conf.Layout == nil || conf.Routes == nil {
		return nil, errors.New("Layout and Routes must be set")
	}
	e := &Engine{
		conf:  conf,
		slots: make([]slot, conf.Trains),
	}
	for i := range e.slots {
		e.slots[i].buf = ring.New(conf.Capacity, End)
	}
	return e, nil
}

func (e *Engine) Trains() int { return len(e.slots) }

func (e *Engine) slot(t TrainID, op string) (*slot, error) {
	if t == 0 || int(t) > len(e.slots) {
		return nil, fault.Inputf(op, "train %s: %w", t, ErrBadTrain)
	}
	return &e.slots[t-1], nil
}

func (e *Engine) activeSlot(t TrainID, op string) (*slot, error) {
	s, err := e.slot(t, op)
	if err != nil {
		return nil, err
	}
	if !s.active {
		return nil, fault.Inputf(op, "train %s: %w", t, ErrInactive)
	}
	return s, nil
}

// ResetSlot empties a train slot and deactivates it.
func (e *Engine) ResetSlot(t TrainID) error {
	s, err := e.slot(t, "reset slot")
	if err != nil {
		return err
	}
	s.reset()
	return nil
}

func (s *slot) reset() {
	s.buf.Fill(End)
	s.active = false
	s.parked = false
	s.parkAtStop = false
	s.stopped = false
	s.timeStopped = time.Time{}
	s.timeToStart = time.Time{}
	s.currentSpeed = SpeedStop
	s.currentSpeedTime = time.Time{}
	s.Cursors = Cursors{}
}

// SetInitialLocation seeds a train slot with the train standing in block, stopped at the block's boundary sensor.
// It is only used during registration.
func (e *Engine) SetInitialLocation(t TrainID, block Element) error {
	const op = "set initial location"
	s, err := e.slot(t, op)
	if err != nil {
		return err
	}
	id, f, ok := block.Block()
	if !ok || f == Either {
		return fault.Inputf(op, "train %s: %s: %w", t, block, ErrNotBlock)
	}
	boundary, err := e.conf.Layout.Boundary(id, f)
	if err != nil {
		return fault.Inputf(op, "train %s: %w", t, err)
	}
	parking, err := e.conf.Layout.IsParking(id)
	if err != nil {
		return fault.Inputf(op, "train %s: %w", t, err)
	}
	s.reset()
	seed := [...]Element{
		Speed(SpeedStop),
		Dir(Forward),
		SensorAt(0), // placeholder for the sensor behind the train
		Speed(SpeedStop),
		block,
		SensorAt(boundary),
		Speed(SpeedStop),
		End,
	}
	for i, el := range seed {
		s.buf.Set(i, el)
	}
	s.Cursors = seedCursors
	s.active = true
	s.parked = parking
	s.stopped = true
	return nil
}

// SetStopped records whether the train is standing still. The engine never decides this itself.
func (e *Engine) SetStopped(t TrainID, stopped bool, at time.Time) error {
	s, err := e.activeSlot(t, "set stopped")
	if err != nil {
		return err
	}
	if stopped && !s.stopped {
		s.timeStopped = at
	}
	s.stopped = stopped
	return nil
}

// SetSpeed records the most recently commanded speed.
func (e *Engine) SetSpeed(t TrainID, l SpeedLevel, at time.Time) error {
	const op = "set speed"
	s, err := e.activeSlot(t, op)
	if err != nil {
		return err
	}
	if l > SpeedHigh {
		return fault.Inputf(op, "train %s: speed %d: %w", t, l, ErrBadSpeed)
	}
	s.currentSpeed = l
	s.currentSpeedTime = at
	return nil
}

// Record is a copy of a train's progress record.
type Record struct {
	Train            TrainID
	Active           bool
	Parked           bool
	Stopped          bool
	TimeStopped      time.Time
	TimeToStart      time.Time
	CurrentSpeed     SpeedLevel
	CurrentSpeedTime time.Time
	Cursors          Cursors
	// Elements is the ring buffer in index order.
	Elements []Element
}

func (e *Engine) Record(t TrainID) (Record, error) {
	s, err := e.slot(t, "record")
	if err != nil {
		return Record{}, err
	}
	return s.record(t), nil
}

func (s *slot) record(t TrainID) Record {
	return Record{
		Train:            t,
		Active:           s.active,
		Parked:           s.parked,
		Stopped:          s.stopped,
		TimeStopped:      s.timeStopped,
		TimeToStart:      s.timeToStart,
		CurrentSpeed:     s.currentSpeed,
		CurrentSpeedTime: s.currentSpeedTime,
		Cursors:          s.Cursors,
		Elements:         s.buf.Slice(),
	}
}

func (e *Engine) Cursors(t TrainID) (Cursors, error) {
	s, err := e.slot(t, "cursors")
	if err != nil {
		return Cursors{}, err
	}
	return s.Cursors, nil
}

// Snapshot returns a copy of every slot.
func (e *Engine) Snapshot() []Record {
	rs := make([]Record, len(e.slots))
	for i := range e.slots {
		rs[i] = e.slots[i].record(TrainID(i + 1))
	}
	return rs
}

// At returns the element at ring index i of a train's buffer.
func (e *Engine) At(t TrainID, i int) (Element, error) {
	const op = "element at"
	s, err := e.slot(t, op)
	if err != nil {
		return End, err
	}
	if i < 0 || i >= s.buf.Cap() {
		return End, fault.Inputf(op, "train %s: index %d: %w", t, i, ErrBadIndex)
	}
	return s.buf.At(i), nil
}

// CheckInvariants verifies the cyclic ordering of both cursor chains of an active record.
func (r Record) CheckInvariants() error {
	if !r.Active {
		return nil
	}
	n := len(r.Elements)
	c := r.Cursors
	from := func(base int) func(int) int {
		return func(i int) int { return ((i-base)%n + n) % n }
	}
	d := from(c.Tail)
	if !(d(c.NextToClear) <= d(c.NextToTrip) && d(c.NextToTrip) <= d(c.Head)) {
		return fmt.Errorf("train %s: tail %d, nextToClear %d, nextToTrip %d, head %d: %w",
			r.Train, c.Tail, c.NextToClear, c.NextToTrip, c.Head, ErrInvariant)
	}
	d = from(c.Continuation)
	if !(d(c.Station) <= d(c.Crawl) && d(c.Crawl) <= d(c.Stop) && d(c.Stop) < d(c.Head)) {
		return fmt.Errorf("train %s: continuation %d, station %d, crawl %d, stop %d, head %d: %w",
			r.Train, c.Continuation, c.Station, c.Crawl, c.Stop, c.Head, ErrInvariant)
	}
	if !r.Elements[c.Head].IsEnd() {
		return fmt.Errorf("train %s: head %d is %s: %w", r.Train, c.Head, r.Elements[c.Head], ErrInvariant)
	}
	for _, i := range []int{c.NextToTrip, c.NextToClear, c.Tail, c.Continuation, c.Station, c.Crawl, c.Stop, c.LastTripped} {
		if !r.Elements[i].IsSensor() {
			return fmt.Errorf("train %s: cursor at %d is %s: %w", r.Train, i, r.Elements[i], ErrInvariant)
		}
	}
	return nil
}
