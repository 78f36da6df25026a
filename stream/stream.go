// Package stream pushes reconstruction progress to watchers over SSE.
// Pipeline runs take tens of minutes, so clients subscribe to job state
// changes and stdout lines here instead of polling the job API.
package stream

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	// MaxClients caps concurrent SSE subscribers.
	MaxClients = 1000
	// clientBuffer is the per-subscriber queue; a slow reader loses
	// messages rather than stalling the hub.
	clientBuffer = 256
	// hubBuffer absorbs bursts of stdout lines from a chatty pipeline.
	hubBuffer = 2048

	keepAliveEvery = 30 * time.Second
	reapEvery      = 60 * time.Second
)

// Message is one SSE event: Type becomes the event name, Msg the data
// payload (already-serialized JSON for job events).
type Message struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type subscriber struct {
	ch       chan Message
	lastSeen time.Time
	addr     string
}

type hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	inbox   chan Message
	done    chan struct{}
	once    sync.Once
	sent    int64
	dropped int64
	refused int64
}

var h = newHub()

func newHub() *hub {
	hb := &hub{
		subs:  make(map[*subscriber]struct{}),
		inbox: make(chan Message, hubBuffer),
		done:  make(chan struct{}),
	}
	go hb.fanout()
	go hb.reap()
	return hb
}

// Broadcast queues a message for every subscriber. It never blocks the
// caller; when the hub is saturated the message is dropped and counted.
func Broadcast(msg Message) {
	select {
	case h.inbox <- msg:
	case <-h.done:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// GetConnectionStats reports hub counters for the health endpoint.
func GetConnectionStats() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]interface{}{
		"active_connections":   len(h.subs),
		"max_connections":      MaxClients,
		"messages_sent":        h.sent,
		"dropped_messages":     h.dropped,
		"rejected_connections": h.refused,
	}
}

// Shutdown stops the hub and disconnects every subscriber.
func Shutdown() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		for s := range h.subs {
			close(s.ch)
			delete(h.subs, s)
		}
		h.mu.Unlock()
		log.Println("Stream hub shut down")
	})
}

func (hb *hub) subscribe(addr string) *subscriber {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if len(hb.subs) >= MaxClients {
		hb.refused++
		return nil
	}
	s := &subscriber{
		ch:       make(chan Message, clientBuffer),
		lastSeen: time.Now(),
		addr:     addr,
	}
	hb.subs[s] = struct{}{}
	log.Printf("Stream subscriber %s connected (%d active)", addr, len(hb.subs))
	return s
}

func (hb *hub) unsubscribe(s *subscriber) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if _, ok := hb.subs[s]; !ok {
		return
	}
	delete(hb.subs, s)
	close(s.ch)
	log.Printf("Stream subscriber %s disconnected (%d active)", s.addr, len(hb.subs))
}

func (hb *hub) fanout() {
	for {
		select {
		case <-hb.done:
			return
		case msg := <-hb.inbox:
			hb.mu.Lock()
			for s := range hb.subs {
				select {
				case s.ch <- msg:
					s.lastSeen = time.Now()
					hb.sent++
				default:
					// subscriber queue full; skip it for this message
					hb.dropped++
				}
			}
			hb.mu.Unlock()
		}
	}
}

// reap drops subscribers that have not taken a message in two reap
// intervals; their HTTP handler is gone without having unsubscribed.
func (hb *hub) reap() {
	ticker := time.NewTicker(reapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-hb.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * reapEvery)
			hb.mu.Lock()
			var stale []*subscriber
			for s := range hb.subs {
				if s.lastSeen.Before(cutoff) {
					stale = append(stale, s)
				}
			}
			hb.mu.Unlock()
			for _, s := range stale {
				hb.unsubscribe(s)
			}
		}
	}
}

// StreamHandler is the GET /stream endpoint.
func StreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.subscribe(r.RemoteAddr)
	if sub == nil {
		http.Error(w, "stream at capacity", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if _, err := io.WriteString(w, "data: {\"type\":\"connected\",\"msg\":\"stream established\"}\n\n"); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveEvery)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case msg, ok := <-sub.ch:
			if !ok {
				return
			}
			if _, err := io.WriteString(w, fmt.Sprintf("event: %s\ndata: %s\n\n", msg.Type, msg.Msg)); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
