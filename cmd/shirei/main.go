package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"nyiyui.ca/hato/shirei/config"
	"nyiyui.ca/hato/shirei/kujo"
	"nyiyui.ca/hato/shirei/node"
	"nyiyui.ca/hato/shirei/store"
)

var configPath string

func main() {
	defer zap.S().Sync()
	level := zap.LevelFlag("log-level", zap.DebugLevel, "set log level")
	flag.StringVar(&configPath, "config", "shirei.json", "path to config")
	flag.Parse()

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(*level)
	dev, err := cfg.Build()
	if err != nil {
		log.Fatalf("build logger: %s", err)
	}
	zap.ReplaceGlobals(dev)

	err = main2()
	if err != nil {
		zap.S().Fatal(err)
	}
}

func main2() error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	var s store.RecordStore = store.NewMem()
	if c.DBPath != "" {
		b, err := store.OpenBunt(c.DBPath)
		if err != nil {
			return err
		}
		defer b.Close()
		s = b
	}
	y, err := c.Static(s)
	if err != nil {
		return err
	}
	n, err := node.New(node.Conf{
		Trains:    c.Trains,
		Capacity:  c.Capacity,
		Blocks:    y.Blocks,
		Turnouts:  y.Turnouts,
		Routes:    y.Routes,
		Deadlocks: y.Deadlocks,
		Cars:      y.Cars,
	})
	if err != nil {
		return err
	}

	// relay replayed events too, so followers started afterwards catch up
	srv := kujo.NewServer(n, c.CORSOrigins, c.RelayBuffer)
	defer srv.Close()

	if c.LogPath != "" {
		f, err := os.OpenFile(c.LogPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		count, err := n.Replay(f)
		if err != nil {
			return err
		}
		zap.S().Infow("replayed log", "path", c.LogPath, "events", count, "seq", n.Seq())
		n.SetLog(node.NewLog(f))
	}

	go func() {
		zap.S().Infow("serving", "listen", c.Listen)
		zap.S().Fatal(http.ListenAndServe(c.Listen, srv.Handler()))
	}()

	if c.Upstream != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		zap.S().Infow("following", "upstream", c.Upstream)
		return kujo.Follow(ctx, c.Upstream, n)
	}
	return feed(os.Stdin, os.Stdout, n)
}

// feed applies events read as JSON lines from r and writes each result to w.
// Events without a sequence number or time get the next number and the current time.
func feed(r io.Reader, w io.Writer, n *node.Node) error {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)
	for {
		var e node.Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Seq == 0 {
			e.Seq = n.Seq() + 1
		}
		if e.Time.IsZero() {
			e.Time = time.Now()
		}
		res, err := n.Apply(e)
		if err != nil {
			return err
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
}
