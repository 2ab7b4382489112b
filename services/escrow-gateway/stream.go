package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/x402kamiyo/x402resolve/core/events"
	"github.com/x402kamiyo/x402resolve/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second

	// subscriberBuffer bounds the per-subscriber queue. A subscriber that
	// falls this far behind loses events and backfills from the journal.
	subscriberBuffer = 64
)

// StreamEvent is one lifecycle event delivered over the websocket feed.
type StreamEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

// Broadcaster fans engine events out to live websocket subscribers. Emit
// never blocks a settlement: sends to slow subscribers are dropped rather
// than queued unboundedly.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan StreamEvent]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan StreamEvent]struct{})}
}

// Emit implements events.Emitter.
func (b *Broadcaster) Emit(evt events.Event) {
	if b == nil || evt == nil {
		return
	}
	attrs := map[string]string{}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			attrs = payload.Attributes
		}
	}
	msg := StreamEvent{
		Type:       evt.EventType(),
		Attributes: attrs,
		Timestamp:  time.Now().Unix(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel along with a
// cancel function that must be called when the subscriber goes away.
func (b *Broadcaster) Subscribe() (<-chan StreamEvent, func()) {
	ch := make(chan StreamEvent, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// teeEmitter forwards each event to every configured sink (journal and live
// stream).
type teeEmitter []events.Emitter

func (t teeEmitter) Emit(evt events.Event) {
	for _, e := range t {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// handleEventsWS streams lifecycle events over a websocket as they are
// emitted. The polling journal endpoint remains the source of record; the
// stream carries only events emitted after the subscription was established.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamEvents(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn) error {
	updates, cancel := s.broadcaster.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt StreamEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
