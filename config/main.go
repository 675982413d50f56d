package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/cars"
	"nyiyui.ca/hato/shirei/layout"
	"nyiyui.ca/hato/shirei/reserve"
	"nyiyui.ca/hato/shirei/store"
)

var ErrUnknownLayout = errors.New("unknown built-in layout")

var builtins = map[string]func() (*layout.Layout, error){
	"testbench1": layout.InitTestbench1,
}

type Config struct {
	// Layout names a built-in layout used for anything not given below.
	Layout string `json:"layout"`
	DBPath string `json:"db-path"`

	DeadlockBase  uint32 `json:"deadlock-base"`
	DeadlockCount int    `json:"deadlock-count"`
	RouteBase     uint32 `json:"route-base"`
	RouteCount    int    `json:"route-count"`

	Trains   int             `json:"trains"`
	Capacity int             `json:"capacity"`
	Blocks   []reserve.Block `json:"blocks"`
	Turnouts []TurnoutID     `json:"turnouts"`
	Cars     *cars.Data      `json:"cars"`

	Listen      string   `json:"listen"`
	CORSOrigins []string `json:"cors-origins"`
	// RelayBuffer is the number of results the relay may queue. 0 means kujo.DefaultBuffer.
	RelayBuffer int `json:"relay-buffer"`
	// Upstream is the relay of the node to follow. Empty means events are read from stdin.
	Upstream string `json:"upstream"`
	LogPath  string `json:"log-path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &Config{Listen: "0.0.0.0:8001"}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Static assembles the layout: blocks, turnouts and cars from the config,
// routes and deadlock records from s. Whatever is missing comes from the
// built-in layout.
func (c *Config) Static(s store.RecordStore) (*layout.Layout, error) {
	y := new(layout.Layout)
	if c.Layout != "" {
		build, ok := builtins[c.Layout]
		if !ok {
			return nil, fmt.Errorf("%q: %w", c.Layout, ErrUnknownLayout)
		}
		var err error
		y, err = build()
		if err != nil {
			return nil, err
		}
	}
	if len(c.Blocks) != 0 {
		y.Blocks = c.Blocks
	}
	if len(c.Turnouts) != 0 {
		y.Turnouts = c.Turnouts
	}
	if c.Cars != nil {
		y.Cars = *c.Cars
	}
	if c.RouteCount != 0 {
		routes, err := store.LoadRoutes(s, c.RouteBase, c.RouteCount)
		if err != nil {
			return nil, err
		}
		y.Routes = routes
	}
	if c.DeadlockCount != 0 {
		records, err := store.LoadDeadlocks(s, c.DeadlockBase, c.DeadlockCount)
		if err != nil {
			return nil, err
		}
		y.Deadlocks = records
	}
	if err := y.Check(); err != nil {
		return nil, err
	}
	return y, nil
}
