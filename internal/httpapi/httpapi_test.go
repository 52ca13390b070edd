package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/engine"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/hub"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/lobby"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/rating"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/store"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/voice"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/ws"
	apitypes "github.com/DoyleJ11/inhouse-matchmaker/pkg/types"
)

const token = "s3cret"

type api struct {
	t       *testing.T
	handler http.Handler
	clk     *clock.Mock
}

func newAPI(t *testing.T) *api {
	t.Helper()
	clk := clock.NewMock()
	h, err := hub.NewHub(context.Background(), hub.Config{
		Rules: engine.Rules{
			Capacity:      6,
			MaxRatingDiff: 400,
			LobbyDelay:    10 * time.Second,
			ResultWindow:  10 * time.Minute,
			VoteWindow:    10 * time.Minute,
		},
	}, lobby.Deps{
		Registry:    player.NewRegistry(player.Rating{Mu: 1000, Sigma: 1000.0 / 3}),
		Rater:       rating.NewTrueSkill(rating.DefaultConfig(1000)),
		Store:       store.NewMemory(),
		Provisioner: voice.NewMemoryProvisioner(),
		Clock:       clk,
		Backoff:     func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
	require.NoError(t, err)
	t.Cleanup(h.Shutdown)

	b := ws.NewBroadcaster(context.Background(), nil)
	t.Cleanup(b.Close)
	return &api{t: t, handler: SetupRoutes(h, b, token, nil), clk: clk}
}

func (a *api) do(method, path string, body any, admin bool) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		var buf bytes.Buffer
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
		req = httptest.NewRequest(method, path, &buf)
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/healthz", nil, false).Code)
}

func TestQueueEndpoints(t *testing.T) {
	a := newAPI(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"join", http.MethodPost, "/queue", apitypes.PlayerRequest{PlayerID: "p1"}, http.StatusCreated},
		{"join twice", http.MethodPost, "/queue", apitypes.PlayerRequest{PlayerID: "p1"}, http.StatusConflict},
		{"missing id", http.MethodPost, "/queue", apitypes.PlayerRequest{}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/queue", map[string]string{"id": "p1"}, http.StatusBadRequest},
		{"list", http.MethodGet, "/queue", nil, http.StatusOK},
		{"leave", http.MethodDelete, "/queue/p1", nil, http.StatusNoContent},
		{"leave twice", http.MethodDelete, "/queue/p1", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(tc.method, tc.path, tc.body, false)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAdminRoutesNeedToken(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/matches", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(http.MethodGet, "/reports", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPost, "/matches", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code, "empty queue cannot start a game")
	assert.Equal(t, "not enough players queued", decodeBody[apitypes.ErrorResponse](t, rec).Error)
}

func TestMatchLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		require.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/queue", apitypes.PlayerRequest{PlayerID: id}, false).Code)
	}

	rec := a.do(http.MethodPost, "/matches", nil, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	m := decodeBody[apitypes.MatchSnapshot](t, rec)
	assert.Equal(t, "Forming", m.State)
	assert.Len(t, m.Roster, 6)
	path := "/matches/" + m.ID

	a.clk.Add(10 * time.Second)
	require.Eventually(t, func() bool {
		return decodeBody[apitypes.MatchSnapshot](t, a.do(http.MethodGet, path, nil, false)).State == "Active"
	}, time.Second, 2*time.Millisecond)

	rec = a.do(http.MethodPost, path+"/votes", apitypes.VoteRequest{PlayerID: "p1", Team: "A"}, false)
	assert.Equal(t, http.StatusConflict, rec.Code, "no vote before the result window")

	a.clk.Add(10 * time.Minute)
	require.Eventually(t, func() bool {
		return decodeBody[apitypes.MatchSnapshot](t, a.do(http.MethodGet, path, nil, false)).State == "AwaitingResult"
	}, time.Second, 2*time.Millisecond)

	rec = a.do(http.MethodPost, path+"/votes", apitypes.VoteRequest{PlayerID: "p1", Team: "C"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(http.MethodPost, path+"/votes", apitypes.VoteRequest{PlayerID: "stranger", Team: "A"}, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(http.MethodPost, path+"/votes", apitypes.VoteRequest{PlayerID: "p1", Team: "A"}, false)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	snap := decodeBody[apitypes.MatchSnapshot](t, a.do(http.MethodGet, path, nil, false))
	require.NotNil(t, snap.Tally)
	assert.Equal(t, 1, snap.Tally.A)
	assert.Equal(t, 4, snap.Quorum)

	rec = a.do(http.MethodPost, path+"/reports", apitypes.ReportRequest{ReporterID: "p2", Text: "p5 left early"}, false)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(http.MethodPost, path+"/end", apitypes.EndMatchRequest{Winner: "B"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(http.MethodPost, path+"/end", apitypes.EndMatchRequest{Winner: "B"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	final := decodeBody[apitypes.MatchSnapshot](t, rec)
	assert.Equal(t, "Resolved", final.State)
	assert.Equal(t, "B", final.Winner)

	require.Len(t, final.TeamB, 3)
	rec = a.do(http.MethodGet, "/players/"+final.TeamB[0], nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, decodeBody[apitypes.PlayerSnapshot](t, rec).Mu, 1000.0)

	reports := decodeBody[[]store.Report](t, a.do(http.MethodGet, "/reports", nil, true))
	require.Len(t, reports, 1)
	assert.Equal(t, "p5 left early", reports[0].Text)
}

func TestLobbyEndpoints(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/lobbies", apitypes.CreateLobbyRequest{CreatorID: "p1"}, false)
	require.Equal(t, http.StatusCreated, rec.Code)
	m := decodeBody[apitypes.MatchSnapshot](t, rec)
	path := "/matches/" + m.ID

	rec = a.do(http.MethodPost, path+"/players", apitypes.PlayerRequest{PlayerID: "p2"}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"p1", "p2"}, decodeBody[apitypes.MatchSnapshot](t, rec).Roster)

	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, path+"/players", apitypes.PlayerRequest{PlayerID: "p2"}, false).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/matches/nope", nil, false).Code)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, path+"/hold", nil, true).Code, "cannot hold a forming lobby")

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodDelete, path, nil, false).Code)
	assert.Equal(t, "Forming", decodeBody[apitypes.MatchSnapshot](t, a.do(http.MethodGet, path, nil, false)).State)
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, path, nil, true).Code)
	require.Eventually(t, func() bool {
		return decodeBody[apitypes.MatchSnapshot](t, a.do(http.MethodGet, path, nil, false)).State == "Cancelled"
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/players/ghost", nil, false).Code)
}
