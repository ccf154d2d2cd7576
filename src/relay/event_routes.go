package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"clanhall/src/models"
	"clanhall/src/services"
)

// EventRoutes accept host events from the game server.
type EventRoutes struct {
	Monitor *services.Monitor
	Logger  *slog.Logger
}

func RegisterEventRoutes(mux *http.ServeMux, routes EventRoutes) {
	mux.HandleFunc("/events/", routes.handleEvent)
}

func (r EventRoutes) handleEvent(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	parts := splitPath(strings.TrimPrefix(req.URL.Path, "/events/"))
	if len(parts) != 1 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	event, err := decodeHostEvent(parts[0], req.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := r.Monitor.Dispatch(req.Context(), event); err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError && r.Logger != nil {
			r.Logger.Error("dispatch host event failed", "kind", parts[0], "error", err)
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func decodeHostEvent(kind string, body io.Reader) (models.HostEvent, error) {
	dec := json.NewDecoder(body)
	switch kind {
	case "hit":
		var e models.HitEvent
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode hit event: %w", err)
		}
		if e.Victim.ID == "" {
			return nil, fmt.Errorf("hit event requires victim.id")
		}
		return e, nil
	case "death":
		var e models.DeathEvent
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode death event: %w", err)
		}
		if e.Victim == "" {
			return nil, fmt.Errorf("death event requires victim")
		}
		return e, nil
	case "session-start":
		var e models.SessionStartEvent
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode session start: %w", err)
		}
		if e.Identity == "" {
			return nil, fmt.Errorf("session start requires identity")
		}
		return e, nil
	case "session-end":
		var e models.SessionEndEvent
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode session end: %w", err)
		}
		if e.Identity == "" {
			return nil, fmt.Errorf("session end requires identity")
		}
		return e, nil
	case "custom":
		var e models.CustomEvent
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode custom event: %w", err)
		}
		if e.Identity == "" || e.Name == "" {
			return nil, fmt.Errorf("custom event requires identity and name")
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
