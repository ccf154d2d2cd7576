package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"clanhall/src/models"
	"clanhall/src/services"
)

// ActorHeader carries the identity of the player issuing a command.
const ActorHeader = "X-Player"

type ClanRoutes struct {
	Registry *services.Registry
	Actions  *services.Actions
	Founding *services.Founding
	Weights  services.ScoreWeights
	Logger   *slog.Logger
}

func RegisterClanRoutes(mux *http.ServeMux, routes ClanRoutes) {
	mux.HandleFunc("/clans", routes.handleClans)
	mux.HandleFunc("/clans/", routes.handleClanSubroutes)
	mux.HandleFunc("/rankings", routes.handleRankings)
	mux.HandleFunc("/players/", routes.handlePlayer)
	mux.HandleFunc("/charters", routes.handleNewCharter)
	mux.HandleFunc("/charters/sign", routes.handleSignCharter)
	mux.HandleFunc("/charters/complete", routes.handleCompleteCharter)
}

type targetRequest struct {
	Player string `json:"player"`
}

type motdRequest struct {
	Motd string `json:"motd"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type charterRequest struct {
	Name    string          `json:"name"`
	Charter *models.Charter `json:"charter"`
}

type charterResponse struct {
	Charter models.Charter `json:"charter"`
	State   string         `json:"state"`
}

func (r ClanRoutes) handleClans(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, r.Registry.Clans())
}

func (r ClanRoutes) handleClanSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := splitPath(strings.TrimPrefix(req.URL.Path, "/clans/"))
	if len(parts) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if len(parts) == 1 && req.Method != http.MethodGet {
		r.handleClanCommand(w, req, parts[0])
		return
	}

	code := services.NormalizeCode(parts[0])
	switch {
	case len(parts) == 1:
		clan, ok := r.Registry.Get(code)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "clan not found"})
			return
		}
		writeJSON(w, http.StatusOK, clan)
	case len(parts) == 2 && parts[1] == "members" && req.Method == http.MethodGet:
		if !r.Registry.Exists(code) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "clan not found"})
			return
		}
		writeJSON(w, http.StatusOK, r.Registry.Members(code))
	case len(parts) == 2 && parts[1] == "invites" && req.Method == http.MethodPost:
		r.handleInvite(w, req, code)
	case len(parts) == 3 && parts[1] == "invites" && req.Method == http.MethodDelete:
		r.handleRevokeInvite(w, req, code, parts[2])
	case len(parts) == 2 && parts[1] == "join" && req.Method == http.MethodPost:
		actor, ok := requireActor(w, req)
		if !ok {
			return
		}
		r.respond(w, r.Actions.Join(req.Context(), actor, code))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (r ClanRoutes) handleClanCommand(w http.ResponseWriter, req *http.Request, command string) {
	actor, ok := requireActor(w, req)
	if !ok {
		return
	}
	ctx := req.Context()

	switch {
	case command == "leave" && req.Method == http.MethodPost:
		r.respond(w, r.Actions.Leave(ctx, actor))
	case command == "disband" && req.Method == http.MethodPost:
		r.respond(w, r.Actions.Disband(ctx, actor))
	case command == "kick" && req.Method == http.MethodPost:
		var body targetRequest
		if !decodeBody(w, req, &body) {
			return
		}
		r.respond(w, r.Actions.Kick(ctx, actor, body.Player))
	case command == "leader" && req.Method == http.MethodPost:
		var body targetRequest
		if !decodeBody(w, req, &body) {
			return
		}
		r.respond(w, r.Actions.PassLeadership(ctx, actor, body.Player))
	case command == "motd" && req.Method == http.MethodPut:
		var body motdRequest
		if !decodeBody(w, req, &body) {
			return
		}
		r.respond(w, r.Actions.SetMotd(ctx, actor, body.Motd))
	case command == "chat" && req.Method == http.MethodPost:
		var body chatRequest
		if !decodeBody(w, req, &body) {
			return
		}
		r.respond(w, r.Actions.Chat(actor, body.Message))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (r ClanRoutes) handleInvite(w http.ResponseWriter, req *http.Request, code string) {
	actor, ok := requireActor(w, req)
	if !ok {
		return
	}
	if !r.Registry.IsMemberOf(actor, code) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": services.ErrNotMember.Error()})
		return
	}
	var body targetRequest
	if !decodeBody(w, req, &body) {
		return
	}
	if err := r.Actions.Invite(req.Context(), actor, body.Player); err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"clan": code, "player": body.Player})
}

// handleRevokeInvite lets a leader withdraw an invite or the invitee decline
// it.
func (r ClanRoutes) handleRevokeInvite(w http.ResponseWriter, req *http.Request, code, player string) {
	actor, ok := requireActor(w, req)
	if !ok {
		return
	}
	if actor == player {
		r.respond(w, r.Actions.Decline(req.Context(), actor, code))
		return
	}
	if !r.Registry.IsMemberOf(actor, code) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": services.ErrNotMember.Error()})
		return
	}
	r.respond(w, r.Actions.Uninvite(req.Context(), actor, player))
}

func (r ClanRoutes) handleRankings(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, r.Registry.Rankings(r.Weights))
}

func (r ClanRoutes) handlePlayer(w http.ResponseWriter, req *http.Request) {
	parts := splitPath(strings.TrimPrefix(req.URL.Path, "/players/"))
	if len(parts) != 1 || req.Method != http.MethodGet {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	identity := parts[0]
	data, err := r.Registry.PlayerData(req.Context(), identity)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"data":     data,
		"invites":  r.Registry.PendingInvites(identity),
	})
}

func (r ClanRoutes) handleNewCharter(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	actor, ok := requireActor(w, req)
	if !ok {
		return
	}
	var body charterRequest
	if !decodeBody(w, req, &body) {
		return
	}
	charter, err := r.Founding.NewCharter(body.Name, actor)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, charterResponse{Charter: charter, State: services.CharterCollecting.String()})
}

func (r ClanRoutes) handleSignCharter(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	actor, ok := requireActor(w, req)
	if !ok {
		return
	}
	charter, ok := decodeCharter(w, req)
	if !ok {
		return
	}
	next, state, err := r.Founding.Sign(req.Context(), charter, actor)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, charterResponse{Charter: next, State: state.String()})
}

func (r ClanRoutes) handleCompleteCharter(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	actor, ok := requireActor(w, req)
	if !ok {
		return
	}
	charter, ok := decodeCharter(w, req)
	if !ok {
		return
	}
	state, err := r.Founding.Complete(req.Context(), charter, actor)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, charterResponse{Charter: charter, State: state.String()})
}

func (r ClanRoutes) respond(w http.ResponseWriter, err error) {
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r ClanRoutes) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		if r.Logger != nil {
			r.Logger.Error("clan command failed", "error", err)
		}
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrClanNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotLeader), errors.Is(err, services.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, services.ErrClanExists),
		errors.Is(err, services.ErrAlreadyMember),
		errors.Is(err, services.ErrAlreadySigned),
		errors.Is(err, services.ErrClanFull):
		return http.StatusConflict
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case services.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func requireActor(w http.ResponseWriter, req *http.Request) (string, bool) {
	actor := strings.TrimSpace(req.Header.Get(ActorHeader))
	if actor == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + ActorHeader + " header"})
		return "", false
	}
	return actor, true
}

func decodeBody(w http.ResponseWriter, req *http.Request, dst any) bool {
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return false
	}
	return true
}

func decodeCharter(w http.ResponseWriter, req *http.Request) (models.Charter, bool) {
	var body charterRequest
	if !decodeBody(w, req, &body) {
		return models.Charter{}, false
	}
	if body.Charter == nil || len(body.Charter.Signers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "charter is required"})
		return models.Charter{}, false
	}
	return *body.Charter, true
}

func splitPath(path string) []string {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
