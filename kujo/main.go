// Package kujo relays a node's applied events over server-sent events so that replicas can follow it.
package kujo

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"nyiyui.ca/hato/shirei/node"
)

// Stream is the SSE stream every applied event is published on.
const Stream = "events"

// DefaultBuffer is the number of results the relay queues before the node's sends start to wait.
const DefaultBuffer = 1024

type Server struct {
	n       *node.Node
	s       *sse.Server
	ch      chan node.Result
	origins []string
}

// NewServer starts relaying every event n applies from now on.
// Followers connecting later are sent every event relayed so far.
//
// buffer (DefaultBuffer if 0) results may be queued. When the queue stays
// full past the multiplexer timeout the result is dropped (counted by
// n.Results.Missed), and every follower halts with node.ErrSequence once it
// reaches the gap.
func NewServer(n *node.Node, origins []string, buffer int) *Server {
	if buffer == 0 {
		buffer = DefaultBuffer
	}
	s := &Server{
		n:       n,
		s:       sse.New(),
		ch:      make(chan node.Result, buffer),
		origins: origins,
	}
	s.s.AutoReplay = true
	s.s.CreateStream(Stream)
	n.Results.Subscribe("kujo", s.ch)
	go s.forward()
	return s
}

func (s *Server) forward() {
	for res := range s.ch {
		data, err := json.Marshal(res)
		if err != nil {
			zap.S().Errorw("marshal result", "seq", res.Event.Seq, "err", err)
			continue
		}
		s.s.TryPublish(Stream, &sse.Event{
			Data: data,
		})
	}
}

// Close stops relaying.
func (s *Server) Close() {
	s.n.Results.Unsubscribe(s.ch)
	close(s.ch)
	s.s.Close()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/events", s.s)
	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
	}).Handler(mux)
}

// Follow applies every event relayed from url to n until ctx is done.
// Events n has already applied (e.g. from its own log) are skipped.
func Follow(ctx context.Context, url string, n *node.Node) error {
	c := sse.NewClient(url)
	return c.SubscribeWithContext(ctx, Stream, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		var res node.Result
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			zap.S().Errorw("unmarshal result", "data", string(msg.Data), "err", err)
			return
		}
		have := n.Seq()
		if res.Event.Seq <= have {
			return
		}
		if res.Event.Seq != have+1 {
			zap.S().Errorw("relay skipped events; the leader's relay dropped results",
				"have", have, "got", res.Event.Seq, "missing", res.Event.Seq-have-1)
		}
		if _, err := n.Apply(res.Event); err != nil {
			zap.S().Errorw("follow", "seq", res.Event.Seq, "err", err)
		}
	})
}
