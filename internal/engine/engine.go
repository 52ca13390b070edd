package engine

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/balance"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/vote"
)

var ErrInvalidTransition = errors.New("trigger not valid in current state")
var ErrNotForming = errors.New("lobby is no longer accepting players")
var ErrLobbyFull = errors.New("lobby is full")
var ErrAlreadyOnRoster = errors.New("player already on roster")
var ErrUnsupportedTrigger = errors.New("unsupported trigger")

// ErrInvariant marks programming errors, as opposed to policy cancellations.
var ErrInvariant = errors.New("match invariant violated")

type StateName string

const (
	StateForming        StateName = "Forming"
	StateBalancing      StateName = "Balancing"
	StateActive         StateName = "Active"
	StateAwaitingResult StateName = "AwaitingResult"
	StateOnHold         StateName = "OnHold"
	StateResolved       StateName = "Resolved"
	StateCancelled      StateName = "Cancelled"
)

type Reason string

const (
	ReasonInsufficientPlayers Reason = "insufficient-players"
	ReasonUnbalanced          Reason = "unbalanced"
	ReasonUnresolvedVote      Reason = "unresolved-vote"
	ReasonManual              Reason = "manual"
)

// State is one of the seven lifecycle states. Each carries only the fields
// that are valid while the match is in it.
type State interface {
	Name() StateName
	isState()
}

type Forming struct{}

type Balancing struct{}

type Active struct {
	Teams balance.Teams
	Diff  float64
}

type AwaitingResult struct {
	Teams        balance.Teams
	VoteDeadline time.Time
}

type OnHold struct {
	Teams balance.Teams
	From  StateName
}

type Resolved struct {
	Teams  balance.Teams
	Winner balance.Team
}

type Cancelled struct {
	Reason Reason
	From   StateName
}

func (Forming) Name() StateName        { return StateForming }
func (Balancing) Name() StateName      { return StateBalancing }
func (Active) Name() StateName         { return StateActive }
func (AwaitingResult) Name() StateName { return StateAwaitingResult }
func (OnHold) Name() StateName         { return StateOnHold }
func (Resolved) Name() StateName       { return StateResolved }
func (Cancelled) Name() StateName      { return StateCancelled }

func (Forming) isState()        {}
func (Balancing) isState()      {}
func (Active) isState()         {}
func (AwaitingResult) isState() {}
func (OnHold) isState()         {}
func (Resolved) isState()       {}
func (Cancelled) isState()      {}

type Rules struct {
	Capacity      int
	MaxRatingDiff float64
	LobbyDelay    time.Duration
	ResultWindow  time.Duration
	VoteWindow    time.Duration
}

type Match struct {
	ID             string
	Roster         []player.Player
	Rules          Rules
	CreatedAt      time.Time
	LobbyDeadline  time.Time
	StartedAt      time.Time
	ResultDeadline time.Time
	EndedAt        time.Time
	State          State
}

type TriggerType string

const (
	TrgAddPlayer           TriggerType = "AddPlayer"
	TrgLobbyExpired        TriggerType = "LobbyExpired"
	TrgBalance             TriggerType = "Balance"
	TrgResultWindowExpired TriggerType = "ResultWindowExpired"
	TrgVoteDecided         TriggerType = "VoteDecided"
	TrgHold                TriggerType = "Hold"
	TrgManualEnd           TriggerType = "ManualEnd"
	TrgRoomDestroyed       TriggerType = "RoomDestroyed"
)

type Trigger struct {
	Type    TriggerType
	Now     time.Time
	Player  player.Player // AddPlayer
	Outcome vote.Outcome  // VoteDecided
	Winner  balance.Team  // ManualEnd; empty means no result was supplied
}

type Audience string

const (
	AudiencePlayers Audience = "players"
	AudienceAdmin   Audience = "admin"
)

/*
	Effects are produced by Apply and carried out by the lobby only after the
	new state is committed:

	LobbyExpired (>=2)   -> Balance
	LobbyExpired (<2)    -> Notify -> ReleaseResources -> ReleaseRoster
	Balance (ok)         -> ProvisionResources -> PersistMatch -> StartResultTimer -> Notify
	Balance (too uneven) -> Notify -> ReleaseResources -> ReleaseRoster
	ResultWindowExpired  -> OpenVote -> Notify(players) -> Notify(admin)
	VoteDecided / ManualEnd with winner
	                     -> CloseVote -> ApplyRatings -> PersistOutcome -> Notify -> ReleaseResources -> ReleaseRoster
	RoomDestroyed        -> CloseVote -> ReleaseResources -> ReleaseRoster
*/

type EffectType string

const (
	EffBalance            EffectType = "Balance"
	EffNotify             EffectType = "Notify"
	EffProvisionResources EffectType = "ProvisionResources"
	EffPersistMatch       EffectType = "PersistMatch"
	EffStartResultTimer   EffectType = "StartResultTimer"
	EffOpenVote           EffectType = "OpenVote"
	EffCloseVote          EffectType = "CloseVote"
	EffApplyRatings       EffectType = "ApplyRatings"
	EffPersistOutcome     EffectType = "PersistOutcome"
	EffReleaseResources   EffectType = "ReleaseResources"
	EffReleaseRoster      EffectType = "ReleaseRoster"
)

type Effect struct {
	Type     EffectType
	Audience Audience
	Text     string
	At       time.Time
	Winner   balance.Team
	Reason   Reason
}

func Apply(m Match, trg Trigger) ([]Effect, Match, error) {
	if trg.Type == TrgAddPlayer && m.State.Name() != StateForming {
		return nil, m, ErrNotForming
	}
	if m.Terminal() {
		if terminates(trg.Type) {
			return nil, m, nil
		}
		return nil, m, ErrInvalidTransition
	}
	if !allowed(m.State.Name(), trg.Type) {
		return nil, m, ErrInvalidTransition
	}

	effects, next, err := transition(m, trg)
	if err != nil {
		return nil, m, err
	}
	if next.Terminal() {
		next.EndedAt = trg.Now
	}
	return effects, next, nil
}

func transition(m Match, trg Trigger) ([]Effect, Match, error) {
	next := m
	switch trg.Type {
	case TrgAddPlayer:
		if slices.ContainsFunc(m.Roster, func(p player.Player) bool { return p.ID == trg.Player.ID }) {
			return nil, m, ErrAlreadyOnRoster
		}
		if len(m.Roster) >= m.Rules.Capacity {
			return nil, m, ErrLobbyFull
		}
		next.Roster = append(slices.Clone(m.Roster), trg.Player)
		return []Effect{
			notifyPlayers("%s joined the lobby (%d/%d)", trg.Player.ID, len(next.Roster), m.Rules.Capacity),
		}, next, nil

	case TrgLobbyExpired:
		if len(m.Roster) < 2 {
			next.State = Cancelled{Reason: ReasonInsufficientPlayers, From: StateForming}
			return teardown([]Effect{
				notifyPlayers("match %s cancelled: not enough players joined", m.ID),
			}), next, nil
		}
		next.State = Balancing{}
		return []Effect{{Type: EffBalance}}, next, nil

	case TrgBalance:
		teams, diff, err := balance.Split(m.Roster)
		if err != nil {
			return nil, m, fmt.Errorf("%w: balancing %d players: %v", ErrInvariant, len(m.Roster), err)
		}
		if diff > m.Rules.MaxRatingDiff {
			next.State = Cancelled{Reason: ReasonUnbalanced, From: StateBalancing}
			return teardown([]Effect{
				notifyPlayers("match %s cancelled: teams would differ by %.0f rating (max %.0f)", m.ID, diff, m.Rules.MaxRatingDiff),
			}), next, nil
		}
		next.State = Active{Teams: teams, Diff: diff}
		next.StartedAt = trg.Now
		next.ResultDeadline = trg.Now.Add(m.Rules.ResultWindow)
		return []Effect{
			{Type: EffProvisionResources},
			{Type: EffPersistMatch},
			{Type: EffStartResultTimer, At: next.ResultDeadline},
			notifyPlayers("match %s started: team A %v vs team B %v", m.ID, player.IDs(teams.A), player.IDs(teams.B)),
		}, next, nil

	case TrgResultWindowExpired:
		st := m.State.(Active)
		deadline := trg.Now.Add(m.Rules.VoteWindow)
		next.State = AwaitingResult{Teams: st.Teams, VoteDeadline: deadline}
		return []Effect{
			{Type: EffOpenVote, At: deadline},
			notifyPlayers("match %s: report the winner, vote A or B", m.ID),
			notifyAdmin("match %s is waiting for a result vote", m.ID),
		}, next, nil

	case TrgVoteDecided:
		st := m.State.(AwaitingResult)
		switch trg.Outcome.Status {
		case vote.StatusDecided:
			next.State = Resolved{Teams: st.Teams, Winner: trg.Outcome.Winner}
			return resolve(m, trg.Outcome.Winner), next, nil
		case vote.StatusUnresolved:
			next.State = Cancelled{Reason: ReasonUnresolvedVote, From: StateAwaitingResult}
			return teardown([]Effect{
				{Type: EffCloseVote},
				{Type: EffPersistOutcome, Reason: ReasonUnresolvedVote},
				notifyPlayers("match %s cancelled: the result vote did not reach quorum", m.ID),
				notifyAdmin("match %s result vote unresolved", m.ID),
			}), next, nil
		default:
			return nil, m, fmt.Errorf("%w: vote outcome %q is not final", ErrInvariant, trg.Outcome.Status)
		}

	case TrgHold:
		teams := m.Teams()
		next.State = OnHold{Teams: teams, From: m.State.Name()}
		return []Effect{
			{Type: EffCloseVote},
			notifyPlayers("match %s is on hold, please wait for an admin", m.ID),
			notifyAdmin("match %s is on hold", m.ID),
		}, next, nil

	case TrgManualEnd:
		teams := m.Teams()
		if trg.Winner != "" {
			if !trg.Winner.Valid() {
				return nil, m, fmt.Errorf("manual end: %w", vote.ErrInvalidChoice)
			}
			next.State = Resolved{Teams: teams, Winner: trg.Winner}
			return resolve(m, trg.Winner), next, nil
		}
		next.State = Cancelled{Reason: ReasonManual, From: m.State.Name()}
		return teardown([]Effect{
			{Type: EffCloseVote},
			{Type: EffPersistOutcome, Reason: ReasonManual},
			notifyPlayers("match %s was ended by an admin", m.ID),
		}), next, nil

	case TrgRoomDestroyed:
		next.State = Cancelled{Reason: ReasonManual, From: m.State.Name()}
		return teardown([]Effect{{Type: EffCloseVote}}), next, nil

	default:
		return nil, m, ErrUnsupportedTrigger
	}
}

func resolve(m Match, winner balance.Team) []Effect {
	return teardown([]Effect{
		{Type: EffCloseVote},
		{Type: EffApplyRatings, Winner: winner},
		{Type: EffPersistOutcome, Winner: winner},
		notifyPlayers("match %s is over, team %s wins", m.ID, winner),
	})
}

func teardown(effects []Effect) []Effect {
	return append(effects, Effect{Type: EffReleaseResources}, Effect{Type: EffReleaseRoster})
}

func notifyPlayers(format string, args ...any) Effect {
	return Effect{Type: EffNotify, Audience: AudiencePlayers, Text: fmt.Sprintf(format, args...)}
}

func notifyAdmin(format string, args ...any) Effect {
	return Effect{Type: EffNotify, Audience: AudienceAdmin, Text: fmt.Sprintf(format, args...)}
}
