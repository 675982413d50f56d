// Package reserve holds the authoritative block and turnout data and who currently holds each of them.
package reserve

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
	. "nyiyui.ca/hato/shirei"
)

var (
	ErrUnknownBlock   = errors.New("unknown block")
	ErrUnknownTurnout = errors.New("unknown turnout")
	// ErrHeld is returned when a resource is held by another train or by static equipment.
	ErrHeld = errors.New("held by another occupant")
	// ErrNotHolder is returned when releasing a resource the train does not hold.
	ErrNotHolder = errors.New("not held by train")
)

// Restriction limits which class of train may use a block.
type Restriction uint8

const (
	NoRestriction Restriction = iota
	PassengerOnly
	FreightOnly
)

// Forbids reports whether a train of class c may not use a block with this restriction.
func (r Restriction) Forbids(c Class) bool {
	switch r {
	case PassengerOnly:
		return c != Passenger
	case FreightOnly:
		return c != Freight
	default:
		return false
	}
}

// Block is the static description of a block.
type Block struct {
	ID      BlockID `json:"id"`
	Comment string  `json:"comment"`
	// Length usable by a train, in mm.
	Length      uint32      `json:"length"`
	Restriction Restriction `json:"restriction"`
	// Parking is set for sidings where trains finish.
	Parking bool `json:"parking"`
	// Speed is the nominal speed when entering facing East and West respectively.
	Speed [2]SpeedLevel `json:"speed"`
	// Boundary is the sensor a train stops at when facing East and West respectively.
	Boundary [2]SensorID `json:"boundary"`
}

// Reservation is who holds a block. The zero value is unreserved.
type Reservation struct {
	Train  TrainID `json:"train"`
	Facing Facing  `json:"facing"`
	// Static is set for equipment that never moves; it occupies the block in both directions.
	Static bool `json:"static"`
}

func (r Reservation) Free() bool { return r == Reservation{} }

func (r Reservation) String() string {
	switch {
	case r.Free():
		return "free"
	case r.Static:
		return "static"
	default:
		return fmt.Sprintf("%s/%s", r.Train, r.Facing)
	}
}

type blockState struct {
	Block
	res Reservation
}

// Table is a replica of the block/turnout reservation state.
// It is not safe for concurrent use.
type Table struct {
	blocks   []blockState
	turnouts map[TurnoutID]TrainID
}

func NewTable(blocks []Block, turnouts []TurnoutID) (*Table, error) {
	t := &Table{
		blocks:   make([]blockState, 0, len(blocks)),
		turnouts: map[TurnoutID]TrainID{},
	}
	for i, b := range blocks {
		if b.ID == 0 {
			return nil, fmt.Errorf("block %d: zero id", i)
		}
		if t.find(b.ID) != -1 {
			return nil, fmt.Errorf("block %d: duplicate id %d", i, b.ID)
		}
		t.blocks = append(t.blocks, blockState{Block: b})
	}
	for _, id := range turnouts {
		if _, ok := t.turnouts[id]; ok {
			return nil, fmt.Errorf("turnout %d: duplicate id", id)
		}
		t.turnouts[id] = 0
	}
	return t, nil
}

// Returns -1 if nonexistent.
func (t *Table) find(id BlockID) int {
	return slices.IndexFunc(t.blocks, func(b blockState) bool { return b.ID == id })
}

func (t *Table) block(id BlockID) (*blockState, error) {
	i := t.find(id)
	if i == -1 {
		return nil, fmt.Errorf("block %d: %w", id, ErrUnknownBlock)
	}
	return &t.blocks[i], nil
}

func (t *Table) Block(id BlockID) (Block, error) {
	b, err := t.block(id)
	if err != nil {
		return Block{}, err
	}
	return b.Block, nil
}

func (t *Table) Length(id BlockID) (uint32, error) {
	b, err := t.block(id)
	if err != nil {
		return 0, err
	}
	return b.Length, nil
}

func (t *Table) Restriction(id BlockID) (Restriction, error) {
	b, err := t.block(id)
	if err != nil {
		return 0, err
	}
	return b.Restriction, nil
}

func (t *Table) Reservation(id BlockID) (Reservation, error) {
	b, err := t.block(id)
	if err != nil {
		return Reservation{}, err
	}
	return b.res, nil
}

func (t *Table) IsParking(id BlockID) (bool, error) {
	b, err := t.block(id)
	if err != nil {
		return false, err
	}
	return b.Parking, nil
}

func (t *Table) NominalSpeed(id BlockID, f Facing) (SpeedLevel, error) {
	b, err := t.block(id)
	if err != nil {
		return 0, err
	}
	if f != East && f != West {
		return 0, fmt.Errorf("block %d: nominal speed for facing %s", id, f)
	}
	return b.Speed[f], nil
}

func (t *Table) Boundary(id BlockID, f Facing) (SensorID, error) {
	b, err := t.block(id)
	if err != nil {
		return 0, err
	}
	if f != East && f != West {
		return 0, fmt.Errorf("block %d: boundary for facing %s", id, f)
	}
	return b.Boundary[f], nil
}

// ReserveBlock reserves a block for train in facing f.
// Reserving a block the train already holds updates its facing.
func (t *Table) ReserveBlock(id BlockID, train TrainID, f Facing) error {
	b, err := t.block(id)
	if err != nil {
		return err
	}
	if train == 0 {
		return fmt.Errorf("block %d: reserve for no train", id)
	}
	if !b.res.Free() && b.res.Train != train {
		return fmt.Errorf("block %d (%s): %w", id, b.res, ErrHeld)
	}
	b.res = Reservation{Train: train, Facing: f}
	return nil
}

// PlaceStatic marks a block as occupied by static equipment.
func (t *Table) PlaceStatic(id BlockID) error {
	b, err := t.block(id)
	if err != nil {
		return err
	}
	if !b.res.Free() && !b.res.Static {
		return fmt.Errorf("block %d (%s): %w", id, b.res, ErrHeld)
	}
	b.res = Reservation{Static: true}
	return nil
}

func (t *Table) ReleaseBlock(id BlockID, train TrainID) error {
	b, err := t.block(id)
	if err != nil {
		return err
	}
	if b.res.Train != train || b.res.Static {
		return fmt.Errorf("block %d (%s) by %s: %w", id, b.res, train, ErrNotHolder)
	}
	b.res = Reservation{}
	return nil
}

// TurnoutHolder returns the train holding a turnout, or 0.
func (t *Table) TurnoutHolder(id TurnoutID) (TrainID, error) {
	holder, ok := t.turnouts[id]
	if !ok {
		return 0, fmt.Errorf("turnout %d: %w", id, ErrUnknownTurnout)
	}
	return holder, nil
}

func (t *Table) ReserveTurnout(id TurnoutID, train TrainID) error {
	holder, err := t.TurnoutHolder(id)
	if err != nil {
		return err
	}
	if holder != 0 && holder != train {
		return fmt.Errorf("turnout %d (%s): %w", id, holder, ErrHeld)
	}
	t.turnouts[id] = train
	return nil
}

func (t *Table) ReleaseTurnout(id TurnoutID, train TrainID) error {
	holder, err := t.TurnoutHolder(id)
	if err != nil {
		return err
	}
	if holder != train {
		return fmt.Errorf("turnout %d (%s) by %s: %w", id, holder, train, ErrNotHolder)
	}
	t.turnouts[id] = 0
	return nil
}

// ReleaseTrain releases every block and turnout train holds.
func (t *Table) ReleaseTrain(train TrainID) {
	if train == 0 {
		return
	}
	for i := range t.blocks {
		if b := &t.blocks[i]; !b.res.Static && b.res.Train == train {
			b.res = Reservation{}
		}
	}
	for id, holder := range t.turnouts {
		if holder == train {
			t.turnouts[id] = 0
		}
	}
}

// Snapshot is a comparable copy of the reservation state.
type Snapshot struct {
	Blocks   map[BlockID]Reservation
	Turnouts map[TurnoutID]TrainID
}

func (t *Table) Snapshot() Snapshot {
	s := Snapshot{
		Blocks:   make(map[BlockID]Reservation, len(t.blocks)),
		Turnouts: make(map[TurnoutID]TrainID, len(t.turnouts)),
	}
	for _, b := range t.blocks {
		s.Blocks[b.ID] = b.res
	}
	for id, holder := range t.turnouts {
		s.Turnouts[id] = holder
	}
	return s
}
