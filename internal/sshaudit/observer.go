package sshaudit

import (
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshterminal"
)

// Observer returns a session observer that records lifecycle events.
// Each session gets its own handler; handlers of one session run one at a
// time, so the per-session state below needs no locking.
func (a *Auditor) Observer() sshterminal.Observer {
	return func(s *sshterminal.Session) sshterminal.EventHandler {
		var (
			connected bool
			since     = s.CreatedAt
			lastErr   string
		)
		return func(ev sshterminal.Event) {
			switch ev.Type {
			case sshterminal.EventError:
				lastErr = ev.Text
				if ev.Kind == sshterminal.KindTransport {
					a.Log(Entry{SessionID: s.ID, Target: s.Target, EventType: EventTransportError, Details: ev.Text})
				}
			case sshterminal.EventStatus:
				switch ev.State {
				case sshterminal.StateConnected:
					connected = true
					since = ev.Timestamp
					lastErr = ""
					a.Log(Entry{SessionID: s.ID, Target: s.Target, EventType: EventConnected})
				case sshterminal.StateDisconnected:
					if !connected {
						return
					}
					connected = false
					a.Log(Entry{
						SessionID:  s.ID,
						Target:     s.Target,
						EventType:  EventDisconnected,
						Details:    lastErr,
						DurationMs: ev.Timestamp.Sub(since).Milliseconds(),
					})
				case sshterminal.StateFailed:
					a.Log(Entry{SessionID: s.ID, Target: s.Target, EventType: EventConnectionFailed, Details: lastErr})
				}
			}
		}
	}
}
