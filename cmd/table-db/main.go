package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	. "nyiyui.ca/hato/shirei"
	"nyiyui.ca/hato/shirei/deadlock"
	"nyiyui.ca/hato/shirei/store"
)

var dbPath string
var mode string
var table string
var index int
var base uint

func main() {
	flag.StringVar(&dbPath, "db-path", "./tables.test.db", "path to database")
	flag.StringVar(&mode, "mode", "", "read or write")
	flag.StringVar(&table, "table", "route", "deadlock or route")
	flag.IntVar(&index, "index", 1, "1-based record index")
	flag.UintVar(&base, "base", 0, "address of the first record of the table")
	flag.Parse()

	if mode != "read" && mode != "write" {
		log.Fatal("mode must be read or write")
	}
	if table != "deadlock" && table != "route" {
		log.Fatal("table must be deadlock or route")
	}

	err := main2()
	if err != nil {
		log.Fatal(err)
	}
}

func main2() error {
	db, err := store.OpenBunt(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	size := store.RouteRecordSize
	if table == "deadlock" {
		size = store.DeadlockRecordSize
	}
	addr, err := store.RecordAddress(uint32(base), index, size)
	if err != nil {
		return err
	}
	switch mode {
	case "read":
		data, err := db.ReadRecord(addr, size)
		if err != nil {
			return err
		}
		var v interface{}
		if table == "deadlock" {
			v, err = store.DecodeDeadlock(data)
		} else {
			v, err = store.DecodeRoute(data)
		}
		if err != nil {
			return err
		}
		log.Printf("found %s %d at %#x", table, index, addr)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "write":
		var data []byte
		if table == "deadlock" {
			var r deadlock.Record
			if err := json.NewDecoder(os.Stdin).Decode(&r); err != nil {
				log.Fatalf("unmarshalling failed: %s", err)
			}
			data, err = store.EncodeDeadlock(r)
		} else {
			var r Route
			if err := json.NewDecoder(os.Stdin).Decode(&r); err != nil {
				log.Fatalf("unmarshalling failed: %s", err)
			}
			if err := r.Validate(); err != nil {
				log.Fatalf("invalid route: %s", err)
			}
			data, err = store.EncodeRoute(r)
		}
		if err != nil {
			log.Fatalf("marshalling failed: %s", err)
		}
		if err := db.WriteRecord(addr, data); err != nil {
			log.Fatalf("writing failed: %s", err)
		}
		log.Printf("saved %s %d at %#x", table, index, addr)
		return nil
	default:
		panic("not implemented yet")
	}
}
