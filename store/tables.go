package store

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/deadlock"
	"nyiyui.ca/hato/shirei/fault"
)

var (
	ErrUnknownRoute   = errors.New("unknown route")
	ErrDuplicateRoute = errors.New("duplicate route id")
)

// LoadDeadlocks reads count deadlock records starting at base.
// A record that cannot be read or decoded is a config fault.
func LoadDeadlocks(s RecordStore, base uint32, count int) ([]deadlock.Record, error) {
	rs := make([]deadlock.Record, 0, count)
	for i := 1; i <= count; i++ {
		addr, err := RecordAddress(base, i, DeadlockRecordSize)
		if err != nil {
			return nil, err
		}
		data, err := s.ReadRecord(addr, DeadlockRecordSize)
		if err != nil {
			return nil, fault.Configf("load deadlocks", "record %d: %w", i, err)
		}
		r, err := DecodeDeadlock(data)
		if err != nil {
			return nil, fault.Configf("load deadlocks", "record %d: %w", i, err)
		}
		rs = append(rs, r)
	}
	zap.S().Debugw("loaded deadlock records", "base", base, "count", count)
	return rs, nil
}

func SaveDeadlocks(s RecordStore, base uint32, rs []deadlock.Record) error {
	for i, r := range rs {
		data, err := EncodeDeadlock(r)
		if err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
		addr, err := RecordAddress(base, i+1, DeadlockRecordSize)
		if err != nil {
			return err
		}
		if err := s.WriteRecord(addr, data); err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
	}
	return nil
}

// LoadRoutes reads count route records starting at base.
func LoadRoutes(s RecordStore, base uint32, count int) ([]Route, error) {
	rs := make([]Route, 0, count)
	for i := 1; i <= count; i++ {
		addr, err := RecordAddress(base, i, RouteRecordSize)
		if err != nil {
			return nil, err
		}
		data, err := s.ReadRecord(addr, RouteRecordSize)
		if err != nil {
			return nil, fault.Configf("load routes", "record %d: %w", i, err)
		}
		r, err := DecodeRoute(data)
		if err != nil {
			return nil, fault.Configf("load routes", "record %d: %w", i, err)
		}
		rs = append(rs, r)
	}
	zap.S().Debugw("loaded route records", "base", base, "count", count)
	return rs, nil
}

func SaveRoutes(s RecordStore, base uint32, rs []Route) error {
	for i, r := range rs {
		data, err := EncodeRoute(r)
		if err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
		addr, err := RecordAddress(base, i+1, RouteRecordSize)
		if err != nil {
			return err
		}
		if err := s.WriteRecord(addr, data); err != nil {
			return fmt.Errorf("record %d: %w", i+1, err)
		}
	}
	return nil
}

// Catalog is a set of validated routes, looked up by id.
type Catalog struct {
	routes []Route
}

func NewCatalog(routes []Route) (*Catalog, error) {
	c := &Catalog{routes: make([]Route, 0, len(routes))}
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return nil, fault.Configf("route catalog", "%w", err)
		}
		if c.find(r.ID) != -1 {
			return nil, fault.Configf("route catalog", "route %d: %w", r.ID, ErrDuplicateRoute)
		}
		c.routes = append(c.routes, r)
	}
	return c, nil
}

func (c *Catalog) find(id RouteID) int {
	return slices.IndexFunc(c.routes, func(r Route) bool { return r.ID == id })
}

func (c *Catalog) Route(id RouteID) (Route, error) {
	i := c.find(id)
	if i == -1 {
		return Route{}, fmt.Errorf("route %d: %w", id, ErrUnknownRoute)
	}
	return c.routes[i], nil
}

func (c *Catalog) Len() int { return len(c.routes) }
