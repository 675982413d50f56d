// Package node applies an ordered stream of events to the movement-authority core.
//
// A Node is the single place where faults are turned into a halt: once any
// operation fails, the node calls Halt and refuses every later event.
package node

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/cars"
	"nyiyui.ca/hato/shirei/deadlock"
	"nyiyui.ca/hato/shirei/fault"
	"nyiyui.ca/hato/shirei/notify"
	"nyiyui.ca/hato/shirei/progress"
	"nyiyui.ca/hato/shirei/reserve"
	"nyiyui.ca/hato/shirei/store"
)

var (
	ErrHalted      = errors.New("node halted")
	ErrSequence    = errors.New("event out of sequence")
	ErrUnknownKind = errors.New("unknown event kind")
)

type Conf struct {
	Trains    int
	Capacity  int
	Blocks    []reserve.Block
	Turnouts  []TurnoutID
	Routes    []Route
	Deadlocks []deadlock.Record
	Cars      cars.Data
	// Actuator receives turnout throws and scheduled commands. Defaults to LogActuator.
	Actuator Actuator
	// Halt is called once with the fault that stopped the node. Defaults to a fatal log.
	Halt func(error)
}

type Node struct {
	lock     sync.Mutex
	engine   *progress.Engine
	blocks   *reserve.Table
	checker  *deadlock.Checker
	routes   *store.Catalog
	actuator Actuator
	halt     func(error)
	log      *Log
	sender   *notify.MultiplexerSender[Result]
	// Results receives the Result of every applied event, in order.
	Results *notify.Multiplexer[Result]
	seq     uint64
	halted  error
}

// New builds a node with its own copy of the reservation and progress state.
func New(conf Conf) (*Node, error) {
	blocks, err := reserve.NewTable(conf.Blocks, conf.Turnouts)
	if err != nil {
		return nil, fault.Configf("new node", "%w", err)
	}
	table, err := deadlock.NewTable(conf.Deadlocks)
	if err != nil {
		return nil, err
	}
	roster, err := cars.NewRoster(conf.Cars)
	if err != nil {
		return nil, fault.Configf("new node", "%w", err)
	}
	routes, err := store.NewCatalog(conf.Routes)
	if err != nil {
		return nil, err
	}
	engine, err := progress.New(progress.Conf{
		Trains:   conf.Trains,
		Capacity: conf.Capacity,
		Layout:   blocks,
		Routes:   routes,
	})
	if err != nil {
		return nil, fault.Configf("new node", "%w", err)
	}
	n := &Node{
		engine:   engine,
		blocks:   blocks,
		checker:  &deadlock.Checker{Table: table, Blocks: blocks, Trains: roster},
		routes:   routes,
		actuator: conf.Actuator,
		halt:     conf.Halt,
	}
	if n.actuator == nil {
		n.actuator = LogActuator{}
	}
	if n.halt == nil {
		n.halt = func(err error) {
			zap.S().Fatalw("halting", "err", err)
		}
	}
	n.sender, n.Results = notify.NewMultiplexerSender[Result]("node")
	return n, nil
}

// SetLog makes the node append every applied event to l.
func (n *Node) SetLog(l *Log) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.log = l
}

// Seq returns the sequence number of the last applied event.
func (n *Node) Seq() uint64 {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.seq
}

// Halted returns the fault that halted the node, if any.
func (n *Node) Halted() error {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.halted
}

// Apply applies e. Any error halts the node.
func (n *Node) Apply(e Event) (Result, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.halted != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrHalted, n.halted)
	}
	res, err := n.apply(e)
	if err == nil && n.log != nil {
		err = n.log.Record(e)
	}
	if err != nil {
		err = fmt.Errorf("event %d (%s): %w", e.Seq, e.Kind, err)
		n.halted = err
		n.halt(err)
		return Result{}, err
	}
	n.seq = e.Seq
	n.sender.Send(res)
	return res, nil
}

func (n *Node) apply(e Event) (Result, error) {
	if e.Seq != n.seq+1 {
		return Result{}, fault.Protocolf("apply", "expected %d, got %d: %w", n.seq+1, e.Seq, ErrSequence)
	}
	res := Result{Event: e, Outcome: Applied}
	var err error
	switch e.Kind {
	case KindReset:
		err = n.reset(e.Train)
	case KindRegister:
		err = n.register(e)
	case KindGrant:
		return n.grant(e)
	case KindTrip:
		var tr progress.Trip
		tr, err = n.engine.OnSensorTripped(e.Sensor)
		if err == nil {
			res.Train = tr.Train
			res.Actions = tr.Actions
			err = n.act(tr.Train, tr.Actions, e.Time)
		}
	case KindClear:
		var c progress.Clear
		c, err = n.engine.OnSensorCleared(e.Sensor)
		if err == nil {
			res.Train = c.Train
			res.Released, err = n.release(c)
		}
	case KindStatic:
		id, _, ok := e.Block.Block()
		if !ok {
			return Result{}, fault.Inputf("static", "%s is not a block", e.Block)
		}
		if err := n.blocks.PlaceStatic(id); err != nil {
			return Result{}, fault.Inputf("static", "%w", err)
		}
	default:
		return Result{}, fault.Inputf("apply", "%q: %w", e.Kind, ErrUnknownKind)
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (n *Node) reset(t TrainID) error {
	trains := []TrainID{t}
	if t == 0 {
		trains = trains[:0]
		for i := 1; i <= n.engine.Trains(); i++ {
			trains = append(trains, TrainID(i))
		}
	}
	for _, t := range trains {
		if err := n.engine.ResetSlot(t); err != nil {
			return err
		}
		n.blocks.ReleaseTrain(t)
	}
	return nil
}

func (n *Node) register(e Event) error {
	if e.Train == 0 {
		return fault.Inputf("register", "no train")
	}
	if err := n.reset(e.Train); err != nil {
		return err
	}
	if err := n.engine.SetInitialLocation(e.Train, e.Block); err != nil {
		return err
	}
	id, f, _ := e.Block.Block()
	if err := n.blocks.ReserveBlock(id, e.Train, f); err != nil {
		return fault.Inputf("register", "train %s: %w", e.Train, err)
	}
	return n.engine.SetStopped(e.Train, true, e.Time)
}

func (n *Node) grant(e Event) (Result, error) {
	const op = "grant"
	res := Result{Event: e, Outcome: Granted}
	route, err := n.routes.Route(e.Route)
	if err != nil {
		return Result{}, fault.Inputf(op, "train %s: %w", e.Train, err)
	}
	would, err := n.checker.WouldDeadlock(route.Destination, e.Train)
	if err != nil {
		return Result{}, err
	}
	if would {
		res.Outcome = Denied
		res.Reason = fmt.Sprintf("%s would deadlock", route.Destination)
		return res, nil
	}
	if err := n.reserveRoute(e.Train, route); err != nil {
		if errors.Is(err, reserve.ErrHeld) {
			res.Outcome = Denied
			res.Reason = err.Error()
			return res, nil
		}
		return Result{}, fault.Inputf(op, "train %s: %w", e.Train, err)
	}
	res.Actions, err = n.engine.AppendRoute(e.Train, e.Route, e.Mode, e.StartDelay, e.Time)
	if err != nil {
		return Result{}, err
	}
	if err := n.act(e.Train, res.Actions, e.Time.Add(e.StartDelay)); err != nil {
		return Result{}, err
	}
	zap.S().Infow("granted", "train", e.Train, "route", e.Route, "mode", e.Mode)
	return res, nil
}

type undo struct {
	block   BlockID
	prev    reserve.Reservation
	turnout TurnoutID
}

// reserveRoute reserves every block and turnout of route for t, or nothing at all.
func (n *Node) reserveRoute(t TrainID, route Route) error {
	var done []undo
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			u := done[i]
			var err error
			switch {
			case u.turnout != 0:
				err = n.blocks.ReleaseTurnout(u.turnout, t)
			case u.prev.Free():
				err = n.blocks.ReleaseBlock(u.block, t)
			default:
				err = n.blocks.ReserveBlock(u.block, t, u.prev.Facing)
			}
			if err != nil {
				panic(fmt.Sprintf("rollback of %#v failed: %s", u, err))
			}
		}
	}
	for _, el := range route.Elements {
		if id, f, ok := el.Block(); ok {
			prev, err := n.blocks.Reservation(id)
			if err != nil {
				rollback()
				return err
			}
			if err := n.blocks.ReserveBlock(id, t, f); err != nil {
				rollback()
				return err
			}
			done = append(done, undo{block: id, prev: prev})
		} else if id, _, ok := el.Turnout(); ok {
			holder, err := n.blocks.TurnoutHolder(id)
			if err != nil {
				rollback()
				return err
			}
			if holder == t {
				continue
			}
			if err := n.blocks.ReserveTurnout(id, t); err != nil {
				rollback()
				return err
			}
			done = append(done, undo{turnout: id})
		}
	}
	return nil
}

// act hands actions to the actuator and records the speed they command.
func (n *Node) act(t TrainID, actions []Element, at time.Time) error {
	for _, el := range actions {
		if id, reverse, ok := el.Turnout(); ok {
			n.actuator.Throw(t, id, reverse)
			continue
		}
		n.actuator.Schedule(t, el, at)
		if l, ok := el.Speed(); ok {
			if err := n.engine.SetSpeed(t, l, at); err != nil {
				return err
			}
			if err := n.engine.SetStopped(t, l == SpeedStop, at); err != nil {
				return err
			}
		}
	}
	return nil
}

// release releases the blocks and turnouts a clear vacated, unless the train needs them again further ahead.
func (n *Node) release(c progress.Clear) ([]Element, error) {
	var released []Element
	for _, el := range c.Vacated {
		if id, _, ok := el.Block(); ok {
			res, err := n.blocks.Reservation(id)
			if err != nil {
				return nil, fault.Configf("release", "%w", err)
			}
			if res.Static || res.Train != c.Train {
				continue
			}
			recurs, err := n.engine.BlockRecursAhead(c.Train, id, c.NewTail)
			if err != nil {
				return nil, err
			}
			if recurs {
				continue
			}
			if err := n.blocks.ReleaseBlock(id, c.Train); err != nil {
				return nil, fault.Configf("release", "%w", err)
			}
			released = append(released, el)
		} else if id, _, ok := el.Turnout(); ok {
			holder, err := n.blocks.TurnoutHolder(id)
			if err != nil {
				return nil, fault.Configf("release", "%w", err)
			}
			if holder != c.Train {
				continue
			}
			recurs, err := n.engine.TurnoutRecursAhead(c.Train, id, c.NewTail)
			if err != nil {
				return nil, err
			}
			if recurs {
				continue
			}
			if err := n.blocks.ReleaseTurnout(id, c.Train); err != nil {
				return nil, fault.Configf("release", "%w", err)
			}
			released = append(released, el)
		}
	}
	return released, nil
}

// Snapshot is a comparable copy of a node's state.
type Snapshot struct {
	Seq          uint64
	Trains       []progress.Record
	Reservations reserve.Snapshot
}

func (n *Node) Snapshot() Snapshot {
	n.lock.Lock()
	defer n.lock.Unlock()
	return Snapshot{
		Seq:          n.seq,
		Trains:       n.engine.Snapshot(),
		Reservations: n.blocks.Snapshot(),
	}
}

// Replay applies every event in r, a log written by Log.
func (n *Node) Replay(r io.Reader) (int, error) {
	events, err := ReadLog(r)
	if err != nil {
		return 0, err
	}
	for i, e := range events {
		if _, err := n.Apply(e); err != nil {
			return i, err
		}
	}
	return len(events), nil
}
