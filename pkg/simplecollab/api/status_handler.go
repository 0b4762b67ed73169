// Package api exposes read-only HTTP endpoints over the collaboration hub:
// a status summary and per-entry presence snapshots.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-collab/pkg/simplecollab"
)

// StatusHandler handles HTTP requests for hub status and presence.
type StatusHandler struct {
	hub *simplecollab.Hub
}

// NewStatusHandler creates a new status handler over hub.
func NewStatusHandler(hub *simplecollab.Hub) *StatusHandler {
	return &StatusHandler{hub: hub}
}

// Routes returns the routes for hub status.
func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Get("/connections", h.ListConnections)
	r.Get("/presence/{entryID}", h.GetPresence)

	return r
}

// GetStatus returns connection, channel, and presence counts.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.hub.Stats())
}

// ListConnections returns a snapshot of registered connections.
func (h *StatusHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"connections": h.hub.Connections(),
		"channels":    h.hub.ChannelNames(),
	})
}

// GetPresence returns the active editor list for one entry.
func (h *StatusHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		slog.Error("invalid entry id", "err", err)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "invalid entry id"})
		return
	}

	editors, contentType, ok := h.hub.Presence().Editors(entryID)
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": "no presence for entry"})
		return
	}

	render.JSON(w, r, simplecollab.PresenceChange{
		EntryID:       entryID,
		ContentType:   contentType,
		ActiveEditors: editors,
	})
}
