// Package layout bundles the static description of a layout: blocks, turnouts, routes, deadlock records and formations.
package layout

import (
	"fmt"

	"github.com/google/uuid"
	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/cars"
	"nyiyui.ca/hato/shirei/deadlock"
	"nyiyui.ca/hato/shirei/reserve"
)

type Layout struct {
	Blocks    []reserve.Block
	Turnouts  []TurnoutID
	Routes    []Route
	Deadlocks []deadlock.Record
	Cars      cars.Data
}

// MustRoute returns the route with the given id. If there is none, it panics.
// This is for debugging/testing.
func (y *Layout) MustRoute(id RouteID) Route {
	for _, r := range y.Routes {
		if r.ID == id {
			return r
		}
	}
	panic(fmt.Sprintf("found nothing when looking up route %d", id))
}

// Check validates every route and the deadlock table.
func (y *Layout) Check() error {
	for _, r := range y.Routes {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	_, err := deadlock.NewTable(y.Deadlocks)
	return err
}

// straightBlock is a block whose boundary sensors are numbered 2b (East) and 2b-1 (West).
func straightBlock(id BlockID, length uint32) reserve.Block {
	return reserve.Block{
		ID:       id,
		Comment:  fmt.Sprintf("%02d", id),
		Length:   length,
		Speed:    [2]SpeedLevel{SpeedHigh, SpeedMedium},
		Boundary: [2]SensorID{SensorID(2 * id), SensorID(2*id - 1)},
	}
}

func either(ids ...BlockID) []Element {
	es := make([]Element, len(ids))
	for i, id := range ids {
		es[i] = BlockAt(id, Either)
	}
	return es
}

var (
	Form7 = uuid.MustParse("2fe1cbb0-b584-45f5-96ec-a9bfd55b1e91")
	Form3 = uuid.MustParse("7b920d78-0c1b-49ef-ab2e-c1209f49bbc6")
)

// InitTestbench1 is a single eastbound main line (blocks 1–12) with sidings 13–15 reached by reversing.
//
//	E01 … E04 ─T1─ E05 ─T3─ E06 E07 E08 ─T2─ E09 … E12
//	                └── W13     W07/W13 ── W14 ── W15
func InitTestbench1() (*Layout, error) {
	y := &Layout{Turnouts: []TurnoutID{1, 2, 3}}
	for id := BlockID(1); id <= 12; id++ {
		y.Blocks = append(y.Blocks, straightBlock(id, 1000))
	}
	for id := BlockID(13); id <= 15; id++ {
		b := straightBlock(id, 600)
		b.Parking = true
		y.Blocks = append(y.Blocks, b)
	}
	y.Blocks[2-1].Length = 300
	y.Blocks[14-1].Restriction = reserve.FreightOnly

	y.Routes = []Route{
		{
			ID: 1, Origin: BlockAt(4, East), Destination: BlockAt(8, East),
			Elements: []Element{
				BlockAt(4, East), SensorAt(8), Dir(Forward), Speed(SpeedMedium),
				TurnoutAt(1, false),
				BlockAt(5, East), SensorAt(10),
				BlockAt(6, East), SensorAt(12),
				BlockAt(7, East), SensorAt(14),
				Speed(SpeedCrawl), BlockAt(8, East), SensorAt(16), Speed(SpeedStop),
			},
		},
		{
			ID: 2, Origin: BlockAt(8, East), Destination: BlockAt(12, East),
			Elements: []Element{
				BlockAt(8, East), SensorAt(16), Dir(Forward), Speed(SpeedMedium),
				TurnoutAt(2, false),
				BlockAt(9, East), SensorAt(18),
				BlockAt(10, East), SensorAt(20),
				BlockAt(11, East), SensorAt(22),
				Speed(SpeedCrawl), BlockAt(12, East), SensorAt(24), Speed(SpeedStop),
			},
		},
		{
			ID: 3, Origin: BlockAt(8, East), Destination: BlockAt(15, West), Park: true,
			Elements: []Element{
				BlockAt(8, East), SensorAt(16), Dir(Reverse), Speed(SpeedLow),
				BlockAt(7, West), SensorAt(13),
				TurnoutAt(2, true),
				BlockAt(13, West), SensorAt(25),
				BlockAt(14, West), SensorAt(27),
				Speed(SpeedCrawl), BlockAt(15, West), SensorAt(29), Speed(SpeedStop),
			},
		},
		{
			// backs into siding 13 and pulls back out; sensors 10 and 12 recur
			ID: 4, Origin: BlockAt(4, East), Destination: BlockAt(6, East),
			Elements: []Element{
				BlockAt(4, East), SensorAt(8), Dir(Forward), Speed(SpeedLow),
				BlockAt(5, East), SensorAt(10),
				Speed(SpeedCrawl), BlockAt(6, East), SensorAt(12), Speed(SpeedStop),
				Dir(Reverse), Speed(SpeedLow), TurnoutAt(3, true),
				BlockAt(5, West), SensorAt(10),
				Speed(SpeedCrawl), BlockAt(13, West), SensorAt(25), Speed(SpeedStop),
				Dir(Forward), Speed(SpeedLow), TurnoutAt(3, true),
				BlockAt(5, East), SensorAt(10),
				Speed(SpeedCrawl), BlockAt(6, East), SensorAt(12), Speed(SpeedStop),
			},
		},
		{
			ID: 5, Origin: BlockAt(12, East), Destination: BlockAt(4, East),
			Elements: []Element{
				BlockAt(12, East), SensorAt(24), Dir(Forward), Speed(SpeedHigh),
				BlockAt(1, East), SensorAt(2),
				BlockAt(2, East), SensorAt(4),
				BlockAt(3, East), SensorAt(6),
				Speed(SpeedCrawl), BlockAt(4, East), SensorAt(8), Speed(SpeedStop),
			},
		},
	}

	y.Deadlocks = []deadlock.Record{
		{Destination: BlockAt(1, East), Threats: either(2, 3, 13, 14, 15)},
		{Destination: BlockAt(4, East)},
		{Destination: BlockAt(6, East)},
		{Destination: BlockAt(8, East), Threats: []Element{BlockAt(13, West), BlockAt(14, East)}},
		{Destination: BlockAt(12, East), Threats: either(13)},
		{Destination: BlockAt(15, West), Threats: []Element{End, BlockAt(14, West)}},
	}

	y.Cars = cars.Data{Forms: map[uuid.UUID]cars.Form{
		Form7: {Comment: "E233 4-car", Slot: 7, Length: 500, Class: Passenger},
		Form3: {Comment: "EF65 + tanks", Slot: 3, Length: 400, Class: Freight},
	}}
	return y, y.Check()
}
