// Package handlers exposes the session manager, the server directory and
// the audit trail over HTTP. Routes are mounted on a chi router by
// [Handler.Mount]; session events are streamed over a WebSocket.
//
// Log prefix: [http].
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/directory"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/idle"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshaudit"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshterminal"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// Deps are the collaborators served by a Handler. Auditor, Clock and DB
// may be nil. AllowedOrigins lists extra browser origin host patterns
// accepted besides the API's own host.
type Deps struct {
	Sessions       *sshterminal.SessionManager
	Directory      directory.Repository
	Auditor        *sshaudit.Auditor
	Clock          *idle.Clock
	DB             *gorm.DB
	AllowedOrigins []string
}

// Handler serves the HTTP API.
type Handler struct {
	sessions       *sshterminal.SessionManager
	directory      directory.Repository
	auditor        *sshaudit.Auditor
	clock          *idle.Clock
	db             *gorm.DB
	allowedOrigins []string

	// dirMu serializes directory writes so a failed save can be rolled
	// back without undoing a concurrent one.
	dirMu sync.Mutex
}

func New(d Deps) *Handler {
	return &Handler{
		sessions:       d.Sessions,
		directory:      d.Directory,
		auditor:        d.Auditor,
		clock:          d.Clock,
		db:             d.DB,
		allowedOrigins: d.AllowedOrigins,
	}
}

// Mount registers the health check and the /api/v1 routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.RequireSameOrigin)

		r.Get("/servers", h.ListServers)
		r.Post("/servers", h.CreateServer)
		r.Get("/servers/{name}", h.GetServer)
		r.Put("/servers/{name}", h.UpdateServer)
		r.Delete("/servers/{name}", h.DeleteServer)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.OpenSession)
		r.Delete("/sessions", h.CloseAllSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.CloseSession)
		r.Post("/sessions/{id}/commands", h.ExecuteCommand)
		r.Post("/sessions/{id}/cd", h.ChangeDirectory)
		r.Get("/sessions/{id}/pwd", h.WorkingDirectory)
		r.Get("/sessions/{id}/transitions", h.GetTransitions)
		r.Get("/sessions/{id}/events", h.SessionEvents)

		r.Get("/audit", h.GetAuditLogs)
		r.Delete("/audit", h.PurgeAuditLogs)

		r.Get("/logs", h.GetServerLogs)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if !hasJSONBody(r) {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// statusForError maps a session error to an HTTP status code.
func statusForError(err error) int {
	if errors.Is(err, directory.ErrNotFound) {
		return http.StatusNotFound
	}
	switch sshterminal.KindOf(err) {
	case sshterminal.KindAuthentication:
		return http.StatusUnauthorized
	case sshterminal.KindConnection, sshterminal.KindTransport:
		return http.StatusBadGateway
	case sshterminal.KindStreamNotInitialized, sshterminal.KindInvalidState:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeSessionError writes err with its kind so clients can branch on it.
func writeSessionError(w http.ResponseWriter, err error) {
	body := map[string]string{"detail": err.Error()}
	if kind := sshterminal.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	writeJSON(w, statusForError(err), body)
}
