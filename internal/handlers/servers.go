package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/directory"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/logutil"
)

var errDirectorySave = errors.New("save server directory")

// updateDirectory applies change and saves the directory. When the save
// fails the in-memory directory is put back the way it was.
func (h *Handler) updateDirectory(change func() error) error {
	h.dirMu.Lock()
	defer h.dirMu.Unlock()

	servers, settings := h.directory.Snapshot()
	if err := change(); err != nil {
		return err
	}
	if err := h.directory.Save(); err != nil {
		h.directory.Restore(servers, settings)
		log.Printf("[http] save directory: %v", err)
		return errDirectorySave
	}
	return nil
}

func writeDirectoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errDirectorySave):
		writeError(w, http.StatusInternalServerError, "Failed to save server directory")
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, http.StatusNotFound, "Server not found")
	case errors.Is(err, directory.ErrExists):
		writeError(w, http.StatusConflict, "A server with this name already exists")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.List())
}

func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.directory.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var s directory.Server
	if !decodeJSON(w, r, &s) {
		return
	}
	var saved directory.Server
	err := h.updateDirectory(func() error {
		if err := h.directory.Add(s); err != nil {
			return err
		}
		saved, _ = h.directory.Get(s.Name)
		return nil
	})
	if err != nil {
		writeDirectoryError(w, err)
		return
	}
	h.writeSavedServer(w, saved, http.StatusCreated)
}

// UpdateServer replaces the named entry. The name in the path wins over
// the one in the body.
func (h *Handler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.directory.Get(name); !ok {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	var s directory.Server
	if !decodeJSON(w, r, &s) {
		return
	}
	s.Name = name
	var saved directory.Server
	err := h.updateDirectory(func() error {
		if _, ok := h.directory.Get(name); !ok {
			return directory.ErrNotFound
		}
		if err := h.directory.Put(s); err != nil {
			return err
		}
		saved, _ = h.directory.Get(name)
		return nil
	})
	if err != nil {
		writeDirectoryError(w, err)
		return
	}
	h.writeSavedServer(w, saved, http.StatusOK)
}

func (h *Handler) writeSavedServer(w http.ResponseWriter, saved directory.Server, status int) {
	log.Printf("[http] saved server %q", logutil.SanitizeForLog(saved.Name))
	writeJSON(w, status, saved)
}

func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.updateDirectory(func() error { return h.directory.Remove(name) }); err != nil {
		writeDirectoryError(w, err)
		return
	}
	log.Printf("[http] removed server %q", logutil.SanitizeForLog(name))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.Settings())
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var s directory.Settings
	if !decodeJSON(w, r, &s) {
		return
	}
	if err := h.updateDirectory(func() error { return h.directory.SetSettings(s) }); err != nil {
		writeDirectoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.directory.Settings())
}
