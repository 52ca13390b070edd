package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/engine"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/lobby"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/notify"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/queue"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/store"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/vote"
)

var ErrMatchNotFound = errors.New("match not found")
var ErrAlreadyInMatch = errors.New("player is already in a live match")
var ErrNotOnRoster = errors.New("player is not on the match roster")
var ErrEmptyReport = errors.New("report text is empty")
var ErrStopped = errors.New("hub is shut down")

type Config struct {
	Rules             engine.Rules
	FinishedCacheSize int
}

type HubMsg interface{ isHubMsg() }

type joinQueue struct {
	PlayerID string
	Reply    chan error
}

type startGame struct {
	Reply chan startResult
}

type startResult struct {
	Match engine.Match
	Err   error
}

type createMatch struct {
	Match engine.Match
	Reply chan error
}

type getMatch struct {
	ID    string
	Reply chan *lobby.Lobby
}

type claimPlayer struct {
	MatchID  string
	PlayerID string
	Reply    chan claimResult
}

// claimResult says whether the claimed player was taken out of the queue,
// so a failed join can put them back.
type claimResult struct {
	Err    error
	Queued bool
}

type releasePlayer struct {
	MatchID  string
	PlayerID string
	Requeue  bool
}

type finishMatch struct {
	Match engine.Match
}

type listMatches struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (joinQueue) isHubMsg()     {}
func (startGame) isHubMsg()     {}
func (createMatch) isHubMsg()   {}
func (getMatch) isHubMsg()      {}
func (claimPlayer) isHubMsg()   {}
func (releasePlayer) isHubMsg() {}
func (finishMatch) isHubMsg()   {}
func (listMatches) isHubMsg()   {}
func (ShutdownHub) isHubMsg()   {}

// Hub is the process-wide coordinator. Its loop owns the live-match table and
// the busy index, and is the only writer that adds players to the queue or
// draws from it, so a player is never both queued and on a live roster.
// The registry and finished cache lock themselves.
type Hub struct {
	inbox    chan HubMsg
	lobbies  map[string]*lobby.Lobby
	busy     map[string]string
	finished *lru.Cache

	queue    *queue.Queue
	registry *player.Registry
	store    store.Store
	notifier notify.Notifier
	rules    engine.Rules
	deps     lobby.Deps
	clk      clock.Clock
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub starts the coordinator. deps.OnTerminal is owned by the hub and
// overwritten.
func NewHub(parent context.Context, cfg Config, deps lobby.Deps) (*Hub, error) {
	if deps.Registry == nil || deps.Rater == nil || deps.Store == nil || deps.Provisioner == nil {
		return nil, errors.New("hub: registry, rater, store and provisioner are required")
	}
	size := cfg.FinishedCacheSize
	if size <= 0 {
		size = 256
	}
	finished, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("finished match cache: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		lobbies:  make(map[string]*lobby.Lobby),
		busy:     make(map[string]string),
		finished: finished,
		queue:    queue.New(),
		registry: deps.Registry,
		store:    deps.Store,
		notifier: deps.Notifier,
		rules:    cfg.Rules,
		clk:      deps.Clock,
		log:      deps.Logger.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	deps.OnTerminal = func(m engine.Match) { h.post(finishMatch{Match: m}) }
	h.deps = deps

	go h.loop()
	return h, nil
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case joinQueue:
				if _, ok := h.busy[msg.PlayerID]; ok {
					msg.Reply <- ErrAlreadyInMatch
					break
				}
				msg.Reply <- h.queue.Join(msg.PlayerID)

			case startGame:
				msg.Reply <- h.startGame()

			case createMatch:
				msg.Reply <- h.openMatch(msg.Match)

			case getMatch:
				msg.Reply <- h.lobbies[msg.ID] // may be nil

			case claimPlayer:
				if _, ok := h.lobbies[msg.MatchID]; !ok {
					msg.Reply <- claimResult{Err: ErrMatchNotFound}
					break
				}
				if _, ok := h.busy[msg.PlayerID]; ok {
					msg.Reply <- claimResult{Err: ErrAlreadyInMatch}
					break
				}
				h.busy[msg.PlayerID] = msg.MatchID
				msg.Reply <- claimResult{Queued: h.queue.Leave(msg.PlayerID) == nil}

			case releasePlayer:
				if h.busy[msg.PlayerID] == msg.MatchID {
					delete(h.busy, msg.PlayerID)
				}
				if _, busy := h.busy[msg.PlayerID]; msg.Requeue && !busy {
					h.queue.Requeue(msg.PlayerID)
				}

			case finishMatch:
				id := msg.Match.ID
				h.finished.Add(id, msg.Match)
				for pid, mid := range h.busy {
					if mid == id {
						delete(h.busy, pid)
					}
				}
				if lb := h.lobbies[id]; lb != nil {
					delete(h.lobbies, id)
					lb.Shutdown()
				}
				h.log.Info("match finished",
					zap.String("match_id", id),
					zap.String("state", string(msg.Match.State.Name())))

			case listMatches:
				ids := make([]string, 0, len(h.lobbies))
				for id := range h.lobbies {
					ids = append(ids, id)
				}
				slices.Sort(ids)
				msg.Reply <- ids

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// startGame draws a full roster and opens its match in one step. On failure
// the drawn players go back to the head of the queue, except any that are
// already in a live match.
func (h *Hub) startGame() startResult {
	ids, err := h.queue.DrawRoster(h.rules.Capacity)
	if err != nil {
		return startResult{Err: err}
	}
	m := engine.NewMatch(uuid.NewString(), h.registry.Lookup(ids), h.rules, h.clk.Now())
	if err := h.openMatch(m); err != nil {
		h.queue.Requeue(slices.DeleteFunc(ids, func(id string) bool {
			_, busy := h.busy[id]
			return busy
		})...)
		return startResult{Err: err}
	}
	return startResult{Match: m}
}

// openMatch starts the lobby for m, marks its roster busy and takes the
// roster out of the queue.
func (h *Hub) openMatch(m engine.Match) error {
	ids := m.RosterIDs()
	if id, ok := h.firstBusy(ids); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyInMatch, id)
	}
	h.lobbies[m.ID] = lobby.NewLobby(h.ctx, m, h.deps)
	for _, id := range ids {
		h.busy[id] = m.ID
		_ = h.queue.Leave(id)
	}
	return nil
}

func (h *Hub) firstBusy(ids []string) (string, bool) {
	for _, id := range ids {
		if _, ok := h.busy[id]; ok {
			return id, true
		}
	}
	return "", false
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Shutdown()
	}
	clear(h.lobbies)
	clear(h.busy)
	h.cancel()
}

// Shutdown stops every live match and waits for the hub loop to exit.
func (h *Hub) Shutdown() {
	h.post(ShutdownHub{})
	<-h.done
}

func (h *Hub) post(m HubMsg) {
	select {
	case h.inbox <- m:
	case <-h.done:
	}
}

// ask sends a message carrying a reply channel and waits for the answer.
func ask[T any](ctx context.Context, h *Hub, build func(chan T) HubMsg) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	reply := make(chan T, 1)
	select {
	case h.inbox <- build(reply):
	case <-h.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	// Delivered messages are always answered; ctx no longer applies.
	select {
	case v := <-reply:
		return v, nil
	case <-h.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrStopped
		}
	}
}

func (h *Hub) lookup(ctx context.Context, id string) (*lobby.Lobby, error) {
	return ask(ctx, h, func(r chan *lobby.Lobby) HubMsg { return getMatch{ID: id, Reply: r} })
}

func (h *Hub) finishedMatch(id string) (engine.Match, bool) {
	v, ok := h.finished.Get(id)
	if !ok {
		return engine.Match{}, false
	}
	return v.(engine.Match), true
}

// withMatch routes to the live lobby, or to the finished snapshot if the
// match ended, including when it ends between lookup and request.
func (h *Hub) withMatch(ctx context.Context, id string, live func(*lobby.Lobby) error, done func(engine.Match) error) error {
	lb, err := h.lookup(ctx, id)
	if err != nil {
		return err
	}
	if lb != nil {
		err := live(lb)
		if !errors.Is(err, lobby.ErrClosed) {
			return err
		}
	}
	if m, ok := h.finishedMatch(id); ok {
		return done(m)
	}
	return ErrMatchNotFound
}

func (h *Hub) JoinQueue(ctx context.Context, playerID string) error {
	h.registry.Ensure(playerID)
	err, sendErr := ask(ctx, h, func(r chan error) HubMsg { return joinQueue{PlayerID: playerID, Reply: r} })
	if sendErr != nil {
		return sendErr
	}
	return err
}

func (h *Hub) LeaveQueue(playerID string) error {
	return h.queue.Leave(playerID)
}

func (h *Hub) QueueSnapshot() []string {
	return h.queue.Snapshot()
}

// StartGame draws a full roster from the queue and opens its lobby.
func (h *Hub) StartGame(ctx context.Context) (engine.Match, error) {
	res, err := ask(ctx, h, func(r chan startResult) HubMsg { return startGame{Reply: r} })
	if err != nil {
		return engine.Match{}, err
	}
	if res.Err != nil {
		return engine.Match{}, res.Err
	}
	m := res.Match
	h.log.Info("match opened", zap.String("match_id", m.ID), zap.Strings("roster", m.RosterIDs()))
	h.notify(ctx, notify.AdminAudience, "match %s created from the queue with %d players", m.ID, len(m.Roster))
	return m, nil
}

// CreateGame opens a lobby with only the creator; others join until the lobby
// delay runs out.
func (h *Hub) CreateGame(ctx context.Context, creatorID string) (engine.Match, error) {
	m := engine.NewMatch(uuid.NewString(), []player.Player{h.registry.Ensure(creatorID)}, h.rules, h.clk.Now())
	err, sendErr := ask(ctx, h, func(r chan error) HubMsg { return createMatch{Match: m, Reply: r} })
	if sendErr != nil {
		return engine.Match{}, sendErr
	}
	if err != nil {
		return engine.Match{}, err
	}
	h.log.Info("match opened", zap.String("match_id", m.ID), zap.Strings("roster", m.RosterIDs()))
	h.notify(ctx, notify.AdminAudience, "%s opened lobby %s", creatorID, m.ID)
	return m, nil
}

// JoinLobby claims the player for the match, which also takes them out of the
// queue, and then adds them to the lobby. A failed add gives the claim back.
func (h *Hub) JoinLobby(ctx context.Context, matchID, playerID string) error {
	claim, err := ask(ctx, h, func(r chan claimResult) HubMsg {
		return claimPlayer{MatchID: matchID, PlayerID: playerID, Reply: r}
	})
	if err != nil {
		return err
	}
	if errors.Is(claim.Err, ErrMatchNotFound) {
		if _, ok := h.finishedMatch(matchID); ok {
			return engine.ErrNotForming
		}
	}
	if claim.Err != nil {
		return claim.Err
	}

	err = h.withMatch(ctx, matchID,
		func(lb *lobby.Lobby) error { return lb.AddPlayer(ctx, h.registry.Ensure(playerID)) },
		func(engine.Match) error { return engine.ErrNotForming })
	if err != nil {
		h.post(releasePlayer{MatchID: matchID, PlayerID: playerID, Requeue: claim.Queued})
		return err
	}
	return nil
}

func (h *Hub) Vote(ctx context.Context, matchID, playerID string, choice balance.Team) error {
	return h.withMatch(ctx, matchID,
		func(lb *lobby.Lobby) error { return lb.Vote(ctx, playerID, choice) },
		func(engine.Match) error { return vote.ErrVotingClosed })
}

func (h *Hub) Hold(ctx context.Context, matchID string) error {
	return h.withMatch(ctx, matchID,
		func(lb *lobby.Lobby) error { return lb.Hold(ctx) },
		func(engine.Match) error { return engine.ErrInvalidTransition })
}

// EndMatch is a manual end. An empty winner cancels; ending an already
// finished match is a no-op.
func (h *Hub) EndMatch(ctx context.Context, matchID string, winner balance.Team) error {
	return h.withMatch(ctx, matchID,
		func(lb *lobby.Lobby) error { return lb.End(ctx, winner) },
		func(engine.Match) error { return nil })
}

func (h *Hub) RoomDestroyed(ctx context.Context, matchID string) error {
	return h.withMatch(ctx, matchID,
		func(lb *lobby.Lobby) error { return lb.Destroy(ctx) },
		func(engine.Match) error { return nil })
}

func (h *Hub) Match(ctx context.Context, matchID string) (lobby.View, error) {
	var view lobby.View
	err := h.withMatch(ctx, matchID,
		func(lb *lobby.Lobby) error {
			v, err := lb.View(ctx)
			view = v
			return err
		},
		func(m engine.Match) error {
			view = lobby.View{Match: m}
			return nil
		})
	return view, err
}

func (h *Hub) LiveMatches(ctx context.Context) ([]string, error) {
	return ask(ctx, h, func(r chan []string) HubMsg { return listMatches{Reply: r} })
}

// Report files a complaint about a live or recently finished match. Only
// players on its roster may file one.
func (h *Hub) Report(ctx context.Context, matchID, reporterID, text string) (store.Report, error) {
	if text == "" {
		return store.Report{}, ErrEmptyReport
	}
	view, err := h.Match(ctx, matchID)
	if err != nil {
		return store.Report{}, err
	}
	if !slices.Contains(view.Match.RosterIDs(), reporterID) {
		return store.Report{}, ErrNotOnRoster
	}

	r := store.Report{
		ID:         uuid.NewString(),
		MatchID:    matchID,
		ReporterID: reporterID,
		Text:       text,
		CreatedAt:  h.clk.Now().UTC(),
	}
	if err := h.store.SaveReport(ctx, r); err != nil {
		return store.Report{}, fmt.Errorf("save report: %w", err)
	}
	h.notify(ctx, notify.AdminAudience, "new report on match %s from %s: %s", matchID, reporterID, text)
	return r, nil
}

func (h *Hub) ListReports(ctx context.Context) ([]store.Report, error) {
	return h.store.ListReports(ctx)
}

func (h *Hub) Player(id string) (player.Player, bool) {
	return h.registry.Get(id)
}

func (h *Hub) notify(ctx context.Context, audience notify.Audience, format string, args ...any) {
	nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.notifier.Notify(nctx, audience, fmt.Sprintf(format, args...)); err != nil {
		h.log.Warn("notification failed", zap.String("audience", string(audience)), zap.Error(err))
	}
}
