// Package sse streams import progress to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent is the event type used by PublishProgress.
const ProgressEvent = "progress"

const (
	keepAliveInterval = 15 * time.Second
	clientBuffer      = 64
)

// Event is one message on the stream. Data is sent as JSON.
type Event struct {
	Type string
	Data any
}

// Broker fans events out to connected clients.
//
// All state lives in the loop goroutine; every public method hands it a
// closure and waits for it to run. Frames carry increasing ids. Progress
// snapshots are coalesced: at most one per throttle interval goes out, the
// newest one always does eventually, and a client that connects mid-run is
// sent the latest snapshot first.
type Broker struct {
	throttle time.Duration
	cmds     chan func(*loop)
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

type loop struct {
	clients  map[chan []byte]struct{}
	seq      uint64
	pending  any
	dirty    bool
	lastSent time.Time
	snapshot []byte
}

// NewBroker starts a broker that emits at most one progress event per
// throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	b := &Broker{
		throttle: throttle,
		cmds:     make(chan func(*loop)),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.done)

	l := &loop{clients: make(map[chan []byte]struct{})}
	flush := time.NewTicker(b.throttle)
	defer flush.Stop()
	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-b.quit:
			for ch := range l.clients {
				close(ch)
			}
			return
		case fn := <-b.cmds:
			fn(l)
		case now := <-flush.C:
			l.flushProgress(now, b.throttle)
		case <-ping.C:
			l.send([]byte(": keep-alive\n\n"))
		}
	}
}

func (l *loop) frame(eventType string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		payload, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	l.seq++
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", l.seq, eventType, payload)
}

// send never blocks; a client whose buffer is full misses the frame.
func (l *loop) send(frame []byte) {
	for ch := range l.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (l *loop) flushProgress(now time.Time, throttle time.Duration) {
	if !l.dirty || now.Sub(l.lastSent) < throttle {
		return
	}
	l.snapshot = l.frame(ProgressEvent, l.pending)
	l.send(l.snapshot)
	l.pending, l.dirty, l.lastSent = nil, false, now
}

// do runs fn on the loop goroutine and waits for it. It reports false once
// the broker is closed.
func (b *Broker) do(fn func(*loop)) bool {
	ran := make(chan struct{})
	select {
	case b.cmds <- func(l *loop) { fn(l); close(ran) }:
	case <-b.done:
		return false
	}
	<-ran
	return true
}

// Close disconnects every client and stops the loop. It is safe to call more
// than once; later calls to other methods are no-ops.
func (b *Broker) Close() {
	b.once.Do(func() { close(b.quit) })
	<-b.done
}

// Subscribe registers a client. The returned cancel func unregisters it and
// closes the channel; the channel is also closed when the broker closes.
func (b *Broker) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, clientBuffer)
	ok := b.do(func(l *loop) {
		l.clients[ch] = struct{}{}
		if l.snapshot != nil {
			ch <- l.snapshot
		}
	})
	if !ok {
		close(ch)
		return ch, func() {}
	}
	return ch, func() {
		b.do(func(l *loop) {
			if _, ok := l.clients[ch]; ok {
				delete(l.clients, ch)
				close(ch)
			}
		})
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	n := 0
	b.do(func(l *loop) { n = len(l.clients) })
	return n
}

// Publish sends an event to every client.
func (b *Broker) Publish(event Event) {
	b.do(func(l *loop) { l.send(l.frame(event.Type, event.Data)) })
}

// PublishProgress offers a progress snapshot. It goes out at once if the
// throttle interval has passed, otherwise it replaces any snapshot still
// waiting and is sent on the next tick.
func (b *Broker) PublishProgress(data any) {
	b.do(func(l *loop) {
		l.pending, l.dirty = data, true
		l.flushProgress(time.Now(), b.throttle)
	})
}

// ServeHTTP streams events to one client until it disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, cancel := b.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", (3 * time.Second).Milliseconds())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
