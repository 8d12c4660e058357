package handlers

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshterminal"
)

const (
	// commandRateLimit is the number of inbound commands allowed per second
	// per WebSocket connection. Commands beyond it are dropped.
	commandRateLimit = 20
	commandRateBurst = 40

	// maxInboundMessageSize bounds one inbound command.
	maxInboundMessageSize = 16 * 1024

	// eventBufferSize is how many events may queue for a slow client
	// before its connection is dropped.
	eventBufferSize = 256
)

// historyMessage is the first message on an event stream.
type historyMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SessionEvents streams a session's events over a WebSocket.
//
// The first message is {"type":"history","text":...} with the output
// produced so far; every later message is one session event. Each inbound
// text message is sent to the shell as a command line. The stream closes
// normally once the session disconnects.
func (h *Handler) SessionEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		log.Printf("[http] accept event stream for %s: %v", s.ID, err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxInboundMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan sshterminal.Event, eventBufferSize)
	var overflow atomic.Bool
	history, unsubscribe := s.SubscribeWithHistory(func(ev sshterminal.Event) {
		select {
		case events <- ev:
		default:
			if overflow.CompareAndSwap(false, true) {
				cancel()
			}
		}
	})
	defer unsubscribe()

	if err := wsjson.Write(ctx, conn, historyMessage{Type: "history", Text: history}); err != nil {
		return
	}
	// The session may have ended before the subscription took effect.
	if s.State().IsIdle() && len(events) == 0 {
		conn.Close(websocket.StatusNormalClosure, "session closed")
		return
	}

	log.Printf("[http] event stream attached to session %s", s.ID)
	defer log.Printf("[http] event stream detached from session %s", s.ID)

	go h.relayCommands(ctx, cancel, conn, s)

	for {
		select {
		case <-ctx.Done():
			if overflow.Load() {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
			}
			return
		case ev := <-events:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
			if ev.Type == sshterminal.EventStatus && ev.State.IsIdle() {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
		}
	}
}

// newCommandLimiter bounds the inbound command rate of one connection.
func newCommandLimiter() *rate.Limiter {
	return rate.NewLimiter(commandRateLimit, commandRateBurst)
}

// relayCommands forwards inbound text messages to the shell until the
// connection or ctx ends.
func (h *Handler) relayCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, s *sshterminal.Session) {
	defer cancel()
	limiter := newCommandLimiter()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if !limiter.Allow() {
			continue
		}
		if err := h.execute(s, string(data)); err != nil {
			// Transport failures arrive as events; anything else means
			// the session is gone.
			if !sshterminal.IsKind(err, sshterminal.KindTransport) {
				return
			}
		}
	}
}
