package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/engine"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/notify"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/rating"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/store"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/vote"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/voice"
)

var ErrClosed = errors.New("match is no longer live")
var ErrNotVoting = errors.New("match is not collecting result votes")

// Deps are the collaborators a lobby needs. Zero values get usable defaults
// except Registry, Rater, Store and Provisioner.
type Deps struct {
	Registry    *player.Registry
	Rater       rating.Algorithm
	Notifier    notify.Notifier
	Store       store.Store
	Provisioner voice.Provisioner
	Clock       clock.Clock
	Logger      *zap.Logger

	// Quorum <= 0, or larger than the roster, means strict majority.
	Quorum          int
	PersistAttempts int
	ReleaseAttempts int
	Backoff         func() backoff.BackOff

	// OnTerminal runs on the dispatcher after the last teardown effect.
	OnTerminal func(engine.Match)
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewLogNotifier(d.Logger)
	}
	if d.PersistAttempts <= 0 {
		d.PersistAttempts = 5
	}
	if d.ReleaseAttempts < 2 {
		d.ReleaseAttempts = 3
	}
	if d.Backoff == nil {
		d.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	if d.OnTerminal == nil {
		d.OnTerminal = func(engine.Match) {}
	}
	return d
}

type Msg interface{ isLobbyMsg() }

// Reply channels must be buffered; the loop never waits on a caller.
type AddPlayer struct {
	Player player.Player
	Reply  chan error
}

type CastVote struct {
	PlayerID string
	Choice   balance.Team
	Reply    chan error
}

type Hold struct{ Reply chan error }

// End is a manual end. An empty Winner cancels the match.
type End struct {
	Winner balance.Team
	Reply  chan error
}

type RoomDestroyed struct{ Reply chan error }

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

type timerKind string

const (
	timerLobby  timerKind = "lobby"
	timerResult timerKind = "result"
	timerVote   timerKind = "vote"
)

type timerFired struct {
	kind   timerKind
	expect engine.StateName
	gen    uint64
}

func (AddPlayer) isLobbyMsg()     {}
func (CastVote) isLobbyMsg()      {}
func (Hold) isLobbyMsg()          {}
func (End) isLobbyMsg()           {}
func (RoomDestroyed) isLobbyMsg() {}
func (GetState) isLobbyMsg()      {}
func (Shutdown) isLobbyMsg()      {}
func (timerFired) isLobbyMsg()    {}

type View struct {
	Version      int
	Match        engine.Match
	Tally        vote.Tally
	Quorum       int
	VoteDeadline time.Time
}

// Lobby is the single writer for one match.
type Lobby struct {
	inbox   chan Msg
	match   engine.Match
	version int
	deps    Deps
	clk     clock.Clock
	log     *zap.Logger

	collector *vote.Collector
	timer     *clock.Timer
	timerGen  uint64

	io     *dispatcher
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, m engine.Match, deps Deps) *Lobby {
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(parent)
	log := deps.Logger.Named("lobby").With(zap.String("match_id", m.ID))

	l := &Lobby{
		inbox:  make(chan Msg, 64),
		match:  m,
		deps:   deps,
		clk:    deps.Clock,
		log:    log,
		io:     newDispatcher(deps, log),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if m.State.Name() == engine.StateForming {
		l.arm(timerLobby, m.LobbyDeadline.Sub(l.clk.Now()), engine.StateForming)
	}

	go l.io.run(ctx)
	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case AddPlayer:
				msg.Reply <- l.step(engine.Trigger{Type: engine.TrgAddPlayer, Player: msg.Player})

			case CastVote:
				msg.Reply <- l.castVote(msg.PlayerID, msg.Choice)

			case Hold:
				msg.Reply <- l.step(engine.Trigger{Type: engine.TrgHold})

			case End:
				msg.Reply <- l.step(engine.Trigger{Type: engine.TrgManualEnd, Winner: msg.Winner})

			case RoomDestroyed:
				msg.Reply <- l.step(engine.Trigger{Type: engine.TrgRoomDestroyed})

			case timerFired:
				l.fire(msg)

			case GetState:
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

// step commits one transition and then carries out its effects. Effects that
// touch lobby-owned state run here; I/O goes to the dispatcher.
func (l *Lobby) step(trg engine.Trigger) error {
	trg.Now = l.clk.Now()
	prev := l.match
	effects, next, err := engine.Apply(prev, trg)
	if err != nil {
		if errors.Is(err, engine.ErrInvariant) {
			l.log.DPanic("match invariant violated",
				zap.String("state", string(prev.State.Name())),
				zap.String("trigger", string(trg.Type)),
				zap.Error(err))
		}
		return err
	}
	if prev.Terminal() {
		return nil
	}

	l.match = next
	l.version++
	if next.State.Name() != prev.State.Name() {
		l.disarm()
		l.log.Info("match transition",
			zap.String("from", string(prev.State.Name())),
			zap.String("to", string(next.State.Name())),
			zap.String("trigger", string(trg.Type)))
	}

	for _, e := range effects {
		l.handle(e)
	}
	return nil
}

func (l *Lobby) handle(e engine.Effect) {
	switch e.Type {
	case engine.EffBalance:
		if err := l.step(engine.Trigger{Type: engine.TrgBalance}); err != nil {
			l.log.Error("balancing failed", zap.Error(err))
		}

	case engine.EffStartResultTimer:
		l.arm(timerResult, e.At.Sub(l.clk.Now()), engine.StateActive)

	case engine.EffOpenVote:
		eligible := l.match.RosterIDs()
		quorum := l.deps.Quorum
		if quorum > len(eligible) {
			quorum = 0
		}
		l.collector = vote.New(vote.Config{
			Eligible: eligible,
			Quorum:   quorum,
			Deadline: e.At,
			Clock:    l.clk,
		})
		l.arm(timerVote, e.At.Sub(l.clk.Now()), engine.StateAwaitingResult)

	case engine.EffCloseVote:
		if l.collector != nil {
			l.collector.Close()
		}

	case engine.EffApplyRatings:
		l.applyRatings(e.Winner)

	default:
		l.io.push(job{effect: e, match: l.match})
	}
}

// applyRatings runs once per match: only the first terminal transition emits it.
func (l *Lobby) applyRatings(winner balance.Team) {
	teams := l.match.Teams()
	a := l.deps.Registry.Lookup(player.IDs(teams.A))
	b := l.deps.Registry.Lookup(player.IDs(teams.B))

	ratings, err := l.deps.Rater.Update(a, b, winner)
	if err != nil {
		l.log.DPanic("rating update rejected a resolved match",
			zap.Error(fmt.Errorf("%w: %v", engine.ErrInvariant, err)))
		return
	}
	l.deps.Registry.Apply(ratings)
	l.io.push(job{effect: engine.Effect{Type: engine.EffApplyRatings, Winner: winner}, match: l.match, ratings: ratings})
}

func (l *Lobby) castVote(playerID string, choice balance.Team) error {
	if l.collector == nil {
		if l.match.Terminal() {
			return vote.ErrVotingClosed
		}
		return ErrNotVoting
	}
	if err := l.collector.Record(playerID, choice); err != nil {
		return err
	}
	if !l.collector.IsDecided() {
		return nil
	}
	return l.step(engine.Trigger{Type: engine.TrgVoteDecided, Outcome: l.collector.Outcome()})
}

func (l *Lobby) fire(t timerFired) {
	if t.gen != l.timerGen || l.match.State.Name() != t.expect {
		l.log.Debug("stale timer dropped", zap.String("timer", string(t.kind)))
		return
	}

	var err error
	switch t.kind {
	case timerLobby:
		err = l.step(engine.Trigger{Type: engine.TrgLobbyExpired})
	case timerResult:
		err = l.step(engine.Trigger{Type: engine.TrgResultWindowExpired})
	case timerVote:
		out := l.collector.Outcome()
		if out.Status == vote.StatusPending {
			l.arm(timerVote, l.collector.Deadline().Sub(l.clk.Now()), t.expect)
			return
		}
		err = l.step(engine.Trigger{Type: engine.TrgVoteDecided, Outcome: out})
	}
	if err != nil {
		l.log.Error("timer transition failed", zap.String("timer", string(t.kind)), zap.Error(err))
	}
}

// arm replaces the pending timer. Fires carry the generation they were armed
// with and the state they expect, and are dropped if either moved on.
func (l *Lobby) arm(kind timerKind, d time.Duration, expect engine.StateName) {
	l.disarm()
	gen := l.timerGen
	l.timer = l.clk.AfterFunc(d, func() {
		l.post(timerFired{kind: kind, expect: expect, gen: gen})
	})
}

func (l *Lobby) disarm() {
	l.timerGen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Lobby) post(m Msg) {
	select {
	case l.inbox <- m:
	case <-l.done:
	}
}

func (l *Lobby) view() View {
	v := View{Version: l.version, Match: l.match}
	if l.collector != nil {
		v.Tally = l.collector.Tally()
		v.Quorum = l.collector.Quorum()
		v.VoteDeadline = l.collector.Deadline()
	}
	return v
}

func (l *Lobby) shutdown() {
	l.disarm()
	if l.collector != nil {
		l.collector.Close()
	}
	l.cancel()
}

func (l *Lobby) ID() string { return l.match.ID }

func (l *Lobby) Done() <-chan struct{} { return l.done }

func (l *Lobby) AddPlayer(ctx context.Context, p player.Player) error {
	return l.request(ctx, func(reply chan error) Msg { return AddPlayer{Player: p, Reply: reply} })
}

func (l *Lobby) Vote(ctx context.Context, playerID string, choice balance.Team) error {
	return l.request(ctx, func(reply chan error) Msg {
		return CastVote{PlayerID: playerID, Choice: choice, Reply: reply}
	})
}

func (l *Lobby) Hold(ctx context.Context) error {
	return l.request(ctx, func(reply chan error) Msg { return Hold{Reply: reply} })
}

func (l *Lobby) End(ctx context.Context, winner balance.Team) error {
	return l.request(ctx, func(reply chan error) Msg { return End{Winner: winner, Reply: reply} })
}

func (l *Lobby) Destroy(ctx context.Context) error {
	return l.request(ctx, func(reply chan error) Msg { return RoomDestroyed{Reply: reply} })
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	return ask(ctx, l, func(reply chan View) Msg { return GetState{Reply: reply} })
}

// Shutdown stops the loop and any pending I/O. It does not wait.
func (l *Lobby) Shutdown() {
	l.post(Shutdown{})
}

func (l *Lobby) request(ctx context.Context, build func(chan error) Msg) error {
	err, sendErr := ask(ctx, l, build)
	if sendErr != nil {
		return sendErr
	}
	return err
}

// ask delivers a message and waits for its reply. ctx bounds delivery only;
// a delivered message is always acted on and answered.
func ask[T any](ctx context.Context, l *Lobby, build func(chan T) Msg) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	reply := make(chan T, 1)
	select {
	case l.inbox <- build(reply):
	case <-l.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrClosed
		}
	}
}
