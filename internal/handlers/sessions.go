package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/logutil"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshterminal"
)

// openSessionRequest names a saved server, or gives the target inline.
type openSessionRequest struct {
	Server   string `json:"server"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type cdRequest struct {
	Path string `json:"path"`
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*sshterminal.Session, bool) {
	s, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return s, true
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.List()
	infos := make([]sshterminal.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

// OpenSession connects a new session and returns its description. The
// request blocks until the connect attempt completes.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var target sshterminal.Target
	if req.Server != "" {
		srv, ok := h.directory.Get(req.Server)
		if !ok {
			writeError(w, http.StatusNotFound, "Server not found")
			return
		}
		target = srv.Target()
	} else {
		target = sshterminal.Target{Name: req.Name, Host: req.Host, Port: req.Port, Username: req.Username}
		if target.Port == 0 {
			target.Port = sshterminal.DefaultPort
		}
	}
	if err := target.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.sessions.Open(r.Context(), target, req.Password)
	if err != nil {
		log.Printf("[http] open session to %s: %v", logutil.SanitizeForLog(target.String()), err)
		writeSessionError(w, err)
		return
	}

	info := sshterminal.Info{ID: id, Target: target, State: sshterminal.StateDisconnected}
	if s, ok := h.sessions.Get(id); ok {
		info = s.Info()
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.sessions.Get(id); !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err := h.sessions.Close(id); err != nil {
		log.Printf("[http] close session %s: %v", id, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CloseAllSessions(w http.ResponseWriter, r *http.Request) {
	count := h.sessions.Count()
	if err := h.sessions.CloseAll(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": count})
}

func (h *Handler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.execute(s, req.Command); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// execute sends command and records it in the audit trail.
func (h *Handler) execute(s *sshterminal.Session, command string) error {
	if err := s.Execute(command); err != nil {
		return err
	}
	if h.auditor != nil {
		h.auditor.LogCommand(s.Info(), command)
	}
	return nil
}

func (h *Handler) ChangeDirectory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req cdRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.ChangeDirectory(req.Path); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) WorkingDirectory(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	dir, err := s.WorkingDirectory(r.Context())
	if err != nil {
		if sshterminal.KindOf(err) == "" {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": dir})
}

func (h *Handler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Transitions())
}
