package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/engine"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/hub"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/lobby"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/queue"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/store"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/vote"
	apitypes "github.com/DoyleJ11/inhouse-matchmaker/pkg/types"
)

var errBadRequest = errors.New("malformed request body")

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func JoinQueue(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.PlayerRequest
		if !decode(w, r, &req) || !requireField(w, "player_id", req.PlayerID) {
			return
		}
		if err := h.JoinQueue(r.Context(), req.PlayerID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, apitypes.QueueSnapshot{Players: h.QueueSnapshot()})
	}
}

func LeaveQueue(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.LeaveQueue(chi.URLParam(r, "playerID")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func GetQueue(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, apitypes.QueueSnapshot{Players: h.QueueSnapshot()})
	}
}

// StartGame draws a full roster from the queue.
func StartGame(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := h.StartGame(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, snapshot(lobby.View{Match: m}))
	}
}

func CreateLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.CreateLobbyRequest
		if !decode(w, r, &req) || !requireField(w, "creator_id", req.CreatorID) {
			return
		}
		m, err := h.CreateGame(r.Context(), req.CreatorID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, snapshot(lobby.View{Match: m}))
	}
}

func JoinLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.PlayerRequest
		if !decode(w, r, &req) || !requireField(w, "player_id", req.PlayerID) {
			return
		}
		if err := h.JoinLobby(r.Context(), chi.URLParam(r, "matchID"), req.PlayerID); err != nil {
			writeError(w, err)
			return
		}
		getMatch(h, w, r, http.StatusOK)
	}
}

func GetMatch(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		getMatch(h, w, r, http.StatusOK)
	}
}

func Vote(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.VoteRequest
		if !decode(w, r, &req) || !requireField(w, "player_id", req.PlayerID) {
			return
		}
		team, ok := balance.ParseTeam(req.Team)
		if !ok {
			writeError(w, vote.ErrInvalidChoice)
			return
		}
		if err := h.Vote(r.Context(), chi.URLParam(r, "matchID"), req.PlayerID, team); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func Hold(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.Hold(r.Context(), chi.URLParam(r, "matchID")); err != nil {
			writeError(w, err)
			return
		}
		getMatch(h, w, r, http.StatusOK)
	}
}

func EndMatch(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.EndMatchRequest
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		var winner balance.Team
		if req.Winner != "" {
			team, ok := balance.ParseTeam(req.Winner)
			if !ok {
				writeError(w, vote.ErrInvalidChoice)
				return
			}
			winner = team
		}
		if err := h.EndMatch(r.Context(), chi.URLParam(r, "matchID"), winner); err != nil {
			writeError(w, err)
			return
		}
		getMatch(h, w, r, http.StatusOK)
	}
}

// DestroyMatch reports that the match's room is gone; the match is torn down.
func DestroyMatch(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.RoomDestroyed(r.Context(), chi.URLParam(r, "matchID")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func FileReport(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apitypes.ReportRequest
		if !decode(w, r, &req) || !requireField(w, "reporter_id", req.ReporterID) {
			return
		}
		rep, err := h.Report(r.Context(), chi.URLParam(r, "matchID"), req.ReporterID, strings.TrimSpace(req.Text))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rep)
	}
}

func ListReports(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := h.ListReports(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reports)
	}
}

func GetPlayer(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.Player(chi.URLParam(r, "playerID"))
		if !ok {
			writeJSON(w, http.StatusNotFound, apitypes.ErrorResponse{Error: "player not found"})
			return
		}
		writeJSON(w, http.StatusOK, playerSnapshot(p))
	}
}

func getMatch(h *hub.Hub, w http.ResponseWriter, r *http.Request, status int) {
	v, err := h.Match(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, snapshot(v))
}

func snapshot(v lobby.View) apitypes.MatchSnapshot {
	m := v.Match
	s := apitypes.MatchSnapshot{
		ID:            m.ID,
		State:         string(m.State.Name()),
		Version:       v.Version,
		Roster:        m.RosterIDs(),
		CreatedAt:     m.CreatedAt,
		LobbyDeadline: m.LobbyDeadline,
	}
	if teams := m.Teams(); !teams.Empty() {
		s.TeamA = player.IDs(teams.A)
		s.TeamB = player.IDs(teams.B)
	}
	if w, ok := m.Winner(); ok {
		s.Winner = string(w)
	}
	if reason, ok := m.CancelReason(); ok {
		s.Reason = string(reason)
	}
	if m.State.Name() == engine.StateAwaitingResult {
		s.Tally = &apitypes.Tally{A: v.Tally.A, B: v.Tally.B}
		s.Quorum = v.Quorum
		s.VoteDeadline = timePtr(v.VoteDeadline)
	}
	s.ResultDeadline = timePtr(m.ResultDeadline)
	s.EndedAt = timePtr(m.EndedAt)
	return s
}

func playerSnapshot(p player.Player) apitypes.PlayerSnapshot {
	return apitypes.PlayerSnapshot{ID: p.ID, Mu: p.Rating.Mu, Sigma: p.Rating.Sigma}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, errBadRequest)
		return false
	}
	return true
}

func requireField(w http.ResponseWriter, name, value string) bool {
	if strings.TrimSpace(value) == "" {
		writeJSON(w, http.StatusBadRequest, apitypes.ErrorResponse{Error: name + " is required"})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, vote.ErrInvalidChoice),
		errors.Is(err, hub.ErrEmptyReport):
		return http.StatusBadRequest
	case errors.Is(err, vote.ErrNotEligible),
		errors.Is(err, hub.ErrNotOnRoster):
		return http.StatusForbidden
	case errors.Is(err, hub.ErrMatchNotFound),
		errors.Is(err, queue.ErrNotQueued):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrAlreadyQueued),
		errors.Is(err, queue.ErrInsufficientPlayers),
		errors.Is(err, hub.ErrAlreadyInMatch),
		errors.Is(err, vote.ErrDuplicateVote),
		errors.Is(err, vote.ErrVotingClosed),
		errors.Is(err, lobby.ErrNotVoting),
		errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrNotForming),
		errors.Is(err, engine.ErrLobbyFull),
		errors.Is(err, engine.ErrAlreadyOnRoster),
		errors.Is(err, store.ErrDuplicateReport):
		return http.StatusConflict
	case errors.Is(err, hub.ErrStopped),
		errors.Is(err, lobby.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, apitypes.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
