package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/engine"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/notify"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/store"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/voice"
)

const notifyTimeout = 5 * time.Second

// job is one I/O effect together with the match as it was when the effect
// was produced.
type job struct {
	effect  engine.Effect
	match   engine.Match
	ratings map[string]player.Rating
}

// dispatcher runs a match's I/O in order on its own goroutine, so a slow
// store or provisioner never blocks the lobby loop. The queue is unbounded.
type dispatcher struct {
	deps Deps
	log  *zap.Logger

	mu      sync.Mutex
	pending []job
	wake    chan struct{}

	// owned by the run goroutine
	handles []voice.Handle
}

func newDispatcher(deps Deps, log *zap.Logger) *dispatcher {
	return &dispatcher{
		deps: deps,
		log:  log.Named("dispatch"),
		wake: make(chan struct{}, 1),
	}
}

func (d *dispatcher) push(j job) {
	d.mu.Lock()
	d.pending = append(d.pending, j)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-d.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		for _, j := range batch {
			if d.perform(ctx, j) {
				return
			}
		}
	}
}

// perform reports whether the match is fully torn down.
func (d *dispatcher) perform(ctx context.Context, j job) bool {
	m := j.match
	switch j.effect.Type {
	case engine.EffNotify:
		d.notify(ctx, m, j.effect)

	case engine.EffProvisionResources:
		d.provision(ctx, m)

	case engine.EffPersistMatch:
		teams := m.Teams()
		rec := store.MatchRecord{
			ID:        m.ID,
			TeamA:     player.IDs(teams.A),
			TeamB:     player.IDs(teams.B),
			CreatedAt: m.CreatedAt,
			StartedAt: m.StartedAt,
		}
		if st, ok := m.State.(engine.Active); ok {
			rec.Diff = st.Diff
		}
		_ = d.retry(ctx, d.deps.PersistAttempts, "save match", func(ctx context.Context) error {
			return d.deps.Store.SaveMatch(ctx, rec)
		})

	case engine.EffApplyRatings:
		var errs error
		for id, rt := range j.ratings {
			errs = multierr.Append(errs, d.retry(ctx, d.deps.PersistAttempts, "save rating", func(ctx context.Context) error {
				return d.deps.Store.SavePlayerRating(ctx, id, rt)
			}))
		}
		if errs != nil {
			d.log.Error("ratings not fully persisted", zap.Int("failed", len(multierr.Errors(errs))))
		}

	case engine.EffPersistOutcome:
		out := store.Outcome{Status: store.OutcomeCancelled, Reason: string(j.effect.Reason), EndedAt: m.EndedAt}
		if j.effect.Winner != "" {
			out = store.Outcome{Status: store.OutcomeResolved, Winner: string(j.effect.Winner), EndedAt: m.EndedAt}
		}
		_ = d.retry(ctx, d.deps.PersistAttempts, "update outcome", func(ctx context.Context) error {
			return d.deps.Store.UpdateOutcome(ctx, m.ID, out)
		})

	case engine.EffReleaseResources:
		var errs error
		for _, h := range d.handles {
			errs = multierr.Append(errs, d.retry(ctx, d.deps.ReleaseAttempts, "release voice", func(ctx context.Context) error {
				return d.deps.Provisioner.ReleaseResource(ctx, h)
			}))
		}
		d.handles = nil
		if errs != nil {
			d.log.Error("voice sessions left behind", zap.Error(errs))
		}

	case engine.EffReleaseRoster:
		d.deps.OnTerminal(m)
		return true

	default:
		d.log.DPanic("unknown effect", zap.String("effect", string(j.effect.Type)))
	}
	return false
}

// notify sends admin effects to the admin feed. Player effects go to the
// match feed and to each roster player directly.
func (d *dispatcher) notify(ctx context.Context, m engine.Match, e engine.Effect) {
	audiences := []notify.Audience{notify.AdminAudience}
	if e.Audience != engine.AudienceAdmin {
		audiences = []notify.Audience{notify.Match(m.ID)}
		for _, id := range m.RosterIDs() {
			audiences = append(audiences, notify.Player(id))
		}
	}

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	var errs error
	for _, a := range audiences {
		errs = multierr.Append(errs, d.deps.Notifier.Notify(nctx, a, e.Text))
	}
	if errs != nil {
		d.log.Warn("notification failed", zap.Int("failed", len(multierr.Errors(errs))), zap.Error(errs))
	}
}

// provision asks for both team channels at once. A failure is logged and the
// match goes on without that channel.
func (d *dispatcher) provision(ctx context.Context, m engine.Match) {
	teams := []balance.Team{balance.TeamA, balance.TeamB}
	handles := make([]voice.Handle, len(teams))
	errs := make([]error, len(teams))

	var g errgroup.Group
	for i, team := range teams {
		i, team := i, team
		g.Go(func() error {
			handles[i], errs[i] = d.deps.Provisioner.ProvisionTeamResource(ctx, m.ID, team)
			return errs[i]
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			d.handles = append(d.handles, handles[i])
		}
	}
	if err := multierr.Combine(errs...); err != nil {
		d.log.Warn("voice provisioning failed", zap.Error(err))
	}
}

func (d *dispatcher) retry(ctx context.Context, attempts int, what string, op func(context.Context) error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(d.deps.Backoff(), uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(func() error { return op(ctx) }, b, func(err error, wait time.Duration) {
		d.log.Warn(what+" failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		d.log.Error(what+" gave up", zap.Int("attempts", attempts), zap.Error(err))
	}
	return err
}
