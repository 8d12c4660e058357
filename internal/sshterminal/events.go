package sshterminal

import (
	"log"
	"sync"
	"time"
)

// EventType identifies what an Event carries.
type EventType string

const (
	// EventOutput carries one decoded chunk of remote output in Text.
	EventOutput EventType = "output"
	// EventError carries a classified failure in Kind and Text.
	EventError EventType = "error"
	// EventStatus carries the new session state in State.
	EventStatus EventType = "status"
)

// Event is a notification produced by one Session.
type Event struct {
	SessionID string       `json:"session_id"`
	Type      EventType    `json:"type"`
	Text      string       `json:"text,omitempty"`
	Kind      ErrorKind    `json:"kind,omitempty"`
	State     SessionState `json:"state,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventHandler receives the events of the session it was subscribed to.
// Handlers of one session are invoked one at a time, in the order the
// events were produced, on a goroutine owned by the session.
type EventHandler func(Event)

// router fans the events of a single session out to its subscribers.
// Emitting never blocks on a subscriber: events are queued and drained
// by a dispatcher goroutine that exists only while the queue is non-empty.
type router struct {
	sessionID  string
	mu         sync.Mutex
	subs       map[uint64]EventHandler
	nextSub    uint64
	queue      []Event
	draining   bool
	drained    *sync.Cond
	scrollback *scrollback
}

func newRouter(sessionID string, scrollbackSize int) *router {
	r := &router{
		sessionID:  sessionID,
		subs:       make(map[uint64]EventHandler),
		scrollback: newScrollback(scrollbackSize),
	}
	r.drained = sync.NewCond(&r.mu)
	return r
}

// subscribe registers h and returns a function that removes it. When
// replay is true, the current scrollback is returned atomically with the
// registration so the caller sees every output byte exactly once.
func (r *router) subscribe(h EventHandler, replay bool) (history string, unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = h
	if replay {
		history = r.scrollback.String()
	}
	var once sync.Once
	return history, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *router) emit(ev Event) {
	ev.SessionID = r.sessionID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.mu.Lock()
	if ev.Type == EventOutput {
		r.scrollback.Write(ev.Text)
	}
	r.queue = append(r.queue, ev)
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true
	r.mu.Unlock()

	go r.drain()
}

func (r *router) drain() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.draining = false
			r.drained.Broadcast()
			r.mu.Unlock()
			return
		}
		ev := r.queue[0]
		r.queue[0] = Event{}
		r.queue = r.queue[1:]
		handlers := make([]EventHandler, 0, len(r.subs))
		for _, h := range r.subs {
			handlers = append(handlers, h)
		}
		r.mu.Unlock()

		for _, h := range handlers {
			r.deliver(h, ev)
		}
	}
}

func (r *router) deliver(h EventHandler, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[session] %s: event handler panic on %s event: %v", r.sessionID, ev.Type, p)
		}
	}()
	h(ev)
}

// flush blocks until every event emitted so far has been delivered.
func (r *router) flush() {
	r.mu.Lock()
	for r.draining {
		r.drained.Wait()
	}
	r.mu.Unlock()
}

func (r *router) history() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scrollback.String()
}
