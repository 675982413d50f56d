package store_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/deadlock"
	"nyiyui.ca/hato/shirei/fault"
	"nyiyui.ca/hato/shirei/layout"
	"nyiyui.ca/hato/shirei/store"
)

func TestRecordSizes(t *testing.T) {
	if store.DeadlockRecordSize != 39 {
		t.Fatalf("deadlock record: expected 39 bytes, got %d", store.DeadlockRecordSize)
	}
	if store.RouteRecordSize != 250 {
		t.Fatalf("route record: expected 250 bytes, got %d", store.RouteRecordSize)
	}
}

func TestRecordAddress(t *testing.T) {
	for i, s := range []struct {
		base  uint32
		index int
		size  int
		want  uint32
	}{
		{0x100, 1, 39, 0x100},
		{0x100, 2, 39, 0x100 + 39},
		{0x2000, 10, 250, 0x2000 + 9*250},
	} {
		got, err := store.RecordAddress(s.base, s.index, s.size)
		if err != nil {
			t.Fatalf("%d: %s", i, err)
		}
		if got != s.want {
			t.Fatalf("%d: expected %#x, got %#x", i, s.want, got)
		}
	}
	if _, err := store.RecordAddress(0x100, 0, 39); fault.ClassOf(err) != fault.Input {
		t.Fatalf("index 0: expected input fault, got %v", err)
	}
}

func TestDeadlockCodec(t *testing.T) {
	r := deadlock.Record{
		Destination: BlockAt(8, East),
		Threats:     []Element{BlockAt(13, West), BlockAt(14, East)},
	}
	data, err := store.EncodeDeadlock(r)
	if err != nil {
		t.Fatal(err)
	}
	if got := data[:6]; !cmp.Equal(got, []byte{byte(KindBlockEast), 0, 8, byte(KindBlockWest), 0, 13}) {
		t.Fatalf("unexpected encoding % x", got)
	}
	r2, err := store.DecodeDeadlock(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, r2); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	// threats after the sentinel are dropped
	r2, err = store.DecodeDeadlock(mustEncode(t, deadlock.Record{
		Destination: BlockAt(15, West),
		Threats:     []Element{End, BlockAt(14, West)},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(r2.Threats) != 0 {
		t.Fatalf("expected no threats, got %v", r2.Threats)
	}

	many := make([]Element, deadlock.MaxThreats+1)
	for i := range many {
		many[i] = BlockAt(BlockID(i+1), Either)
	}
	if _, err := store.EncodeDeadlock(deadlock.Record{Destination: BlockAt(1, East), Threats: many}); !errors.Is(err, deadlock.ErrTooManyThreats) {
		t.Fatalf("expected %s, got %v", deadlock.ErrTooManyThreats, err)
	}
	data[0] = 0xff
	if _, err := store.DecodeDeadlock(data); !errors.Is(err, store.ErrBadKind) {
		t.Fatalf("expected %s, got %v", store.ErrBadKind, err)
	}
	if _, err := store.DecodeDeadlock(data[:10]); !errors.Is(err, store.ErrRecordSize) {
		t.Fatalf("expected %s, got %v", store.ErrRecordSize, err)
	}
}

func mustEncode(t *testing.T, r deadlock.Record) []byte {
	t.Helper()
	data, err := store.EncodeDeadlock(r)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRouteCodec(t *testing.T) {
	y, err := layout.InitTestbench1()
	if err != nil {
		t.Fatal(err)
	}
	r := y.MustRoute(3)
	r.Priority = 2
	data, err := store.EncodeRoute(r)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := store.DecodeRoute(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, r2); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	r.Elements = make([]Element, MaxRouteElements+1)
	if _, err := store.EncodeRoute(r); !errors.Is(err, ErrRouteTooLong) {
		t.Fatalf("expected %s, got %v", ErrRouteTooLong, err)
	}
}

func TestRouteCodecSentinel(t *testing.T) {
	y, err := layout.InitTestbench1()
	if err != nil {
		t.Fatal(err)
	}
	r := y.MustRoute(1)
	// a sentinel in the middle would truncate the route on decode
	r.Elements = append([]Element(nil), r.Elements...)
	r.Elements[5] = End
	if _, err := store.EncodeRoute(r); !errors.Is(err, ErrRouteBadElement) {
		t.Fatalf("expected %s, got %v", ErrRouteBadElement, err)
	}
	if err := store.SaveRoutes(store.NewMem(), 0x1000, []Route{r}); !errors.Is(err, ErrRouteBadElement) {
		t.Fatalf("SaveRoutes: expected %s, got %v", ErrRouteBadElement, err)
	}
}

func openStores(t *testing.T) map[string]store.RecordStore {
	b, err := store.OpenBunt(":memory:")
	if err != nil {
		t.Fatalf("OpenBunt: %s", err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]store.RecordStore{"bunt": b, "mem": store.NewMem()}
}

func TestTables(t *testing.T) {
	y, err := layout.InitTestbench1()
	if err != nil {
		t.Fatal(err)
	}
	const deadlockBase, routeBase = 0x0400, 0x1000
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.SaveDeadlocks(s, deadlockBase, y.Deadlocks); err != nil {
				t.Fatalf("SaveDeadlocks: %s", err)
			}
			if err := store.SaveRoutes(s, routeBase, y.Routes); err != nil {
				t.Fatalf("SaveRoutes: %s", err)
			}
			ds, err := store.LoadDeadlocks(s, deadlockBase, len(y.Deadlocks))
			if err != nil {
				t.Fatalf("LoadDeadlocks: %s", err)
			}
			if len(ds) != len(y.Deadlocks) {
				t.Fatalf("expected %d records, got %d", len(y.Deadlocks), len(ds))
			}
			if _, err := deadlock.NewTable(ds); err != nil {
				t.Fatalf("NewTable: %s", err)
			}
			if diff := cmp.Diff(y.Deadlocks[3], ds[3]); diff != "" {
				t.Fatalf("record 4 (-want +got):\n%s", diff)
			}
			rs, err := store.LoadRoutes(s, routeBase, len(y.Routes))
			if err != nil {
				t.Fatalf("LoadRoutes: %s", err)
			}
			if diff := cmp.Diff(y.Routes, rs); diff != "" {
				t.Fatalf("routes (-want +got):\n%s", diff)
			}
			// past the end of the table
			_, err = store.LoadRoutes(s, routeBase, len(y.Routes)+1)
			if !errors.Is(err, store.ErrNoRecord) || fault.ClassOf(err) != fault.Config {
				t.Fatalf("expected config fault %s, got %v", store.ErrNoRecord, err)
			}
			// a deadlock record read with the route size
			if _, err := s.ReadRecord(deadlockBase, store.RouteRecordSize); !errors.Is(err, store.ErrRecordSize) {
				t.Fatalf("expected %s, got %v", store.ErrRecordSize, err)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	y, err := layout.InitTestbench1()
	if err != nil {
		t.Fatal(err)
	}
	c, err := store.NewCatalog(y.Routes)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != len(y.Routes) {
		t.Fatalf("expected %d routes, got %d", len(y.Routes), c.Len())
	}
	r, err := c.Route(4)
	if err != nil {
		t.Fatal(err)
	}
	if r.Destination != BlockAt(6, East) {
		t.Fatalf("unexpected route %s", r)
	}
	if _, err := c.Route(42); !errors.Is(err, store.ErrUnknownRoute) {
		t.Fatalf("expected %s, got %v", store.ErrUnknownRoute, err)
	}
	for i, s := range []struct {
		name   string
		routes []Route
		err    error
	}{
		{"duplicate", []Route{y.MustRoute(1), y.MustRoute(1)}, store.ErrDuplicateRoute},
		{"invalid", []Route{{ID: 9, Elements: []Element{SensorAt(1)}}}, ErrRouteFewSensors},
	} {
		t.Run(fmt.Sprintf("%d-%s", i, s.name), func(t *testing.T) {
			_, err := store.NewCatalog(s.routes)
			if !errors.Is(err, s.err) || fault.ClassOf(err) != fault.Config {
				t.Fatalf("expected config fault %s, got %v", s.err, err)
			}
		})
	}
}
