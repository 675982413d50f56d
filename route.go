package shirei

import (
	"errors"
	"fmt"
)

// MaxRouteElements is the number of Elements a route record can hold.
const MaxRouteElements = 80

// minRouteSensors is the number of sensors a route must contain so that the
// continuation, station, crawl and stop cursors all fall inside it.
const minRouteSensors = 5

var (
	ErrRouteTooLong     = errors.New("route too long")
	ErrRouteBadStart    = errors.New("route must begin with block, sensor, direction, velocity")
	ErrRouteBadEnd      = errors.New("route must end with velocity(crawl), block, sensor, velocity(stop)")
	ErrRouteFewSensors  = errors.New("route has too few sensors")
	ErrRouteStopNoCrawl = errors.New("stop not preceded by crawl and block")
	ErrRouteTurnout     = errors.New("turnout recurs without a direction change")
	ErrRouteBadElement  = errors.New("invalid element")
)

// Route is a validated sequence of Elements for traveling between two points.
type Route struct {
	ID          RouteID   `json:"id"`
	Origin      Element   `json:"origin"`
	Destination Element   `json:"destination"`
	Park        bool      `json:"park"`
	Priority    uint8     `json:"priority"`
	Elements    []Element `json:"elements"`
}

func (r Route) String() string {
	return fmt.Sprintf("route(%d %s→%s %v)", r.ID, r.Origin, r.Destination, r.Elements)
}

// Validate checks the structural invariants every route must satisfy before
// it can be spliced onto a train.
func (r Route) Validate() error {
	es := r.Elements
	if len(es) > MaxRouteElements {
		return fmt.Errorf("route %d: %w (%d elements)", r.ID, ErrRouteTooLong, len(es))
	}
	for i, e := range es {
		if !e.Kind.Valid() || e.IsEnd() {
			return fmt.Errorf("route %d: index %d: %w: %s", r.ID, i, ErrRouteBadElement, e)
		}
	}
	if len(es) < 8 {
		return fmt.Errorf("route %d: %w", r.ID, ErrRouteFewSensors)
	}
	if !isDirectionalBlock(es[0]) || !es[1].IsSensor() || !es[2].IsDirection() || !es[3].IsVelocity() {
		return fmt.Errorf("route %d: %w", r.ID, ErrRouteBadStart)
	}
	n := len(es)
	if es[n-4] != Speed(SpeedCrawl) || !isDirectionalBlock(es[n-3]) || !es[n-2].IsSensor() || es[n-1] != Speed(SpeedStop) {
		return fmt.Errorf("route %d: %w", r.ID, ErrRouteBadEnd)
	}
	sensors := 0
	for _, e := range es {
		if e.IsSensor() {
			sensors++
		}
	}
	if sensors < minRouteSensors {
		return fmt.Errorf("route %d: %w (%d < %d)", r.ID, ErrRouteFewSensors, sensors, minRouteSensors)
	}
	// the leading velocity belongs to the start, so only later stops are checked
	for i := 4; i < n; i++ {
		if es[i] != Speed(SpeedStop) {
			continue
		}
		if !es[i-1].IsSensor() {
			return fmt.Errorf("route %d: index %d: %w (no sensor)", r.ID, i, ErrRouteStopNoCrawl)
		}
		crawl, block := false, false
		for j := i - 2; j >= 0 && !es[j].IsSensor(); j-- {
			if es[j] == Speed(SpeedCrawl) {
				crawl = true
			}
			if es[j].IsBlock() {
				block = true
			}
		}
		if !crawl || !block {
			return fmt.Errorf("route %d: index %d: %w", r.ID, i, ErrRouteStopNoCrawl)
		}
	}
	seen := map[TurnoutID]bool{}
	for i, e := range es {
		if e.IsDirection() {
			seen = map[TurnoutID]bool{}
			continue
		}
		id, _, ok := e.Turnout()
		if !ok {
			continue
		}
		if seen[id] {
			return fmt.Errorf("route %d: index %d: turnout %d: %w", r.ID, i, id, ErrRouteTurnout)
		}
		seen[id] = true
	}
	return nil
}

// LeadingDirection returns the direction the route starts moving in.
func (r Route) LeadingDirection() Direction {
	d, _ := r.Elements[2].Direction()
	return d
}

func isDirectionalBlock(e Element) bool {
	return e.Kind == KindBlockEast || e.Kind == KindBlockWest
}
