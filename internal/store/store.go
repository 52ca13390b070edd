package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
)

var ErrNotFound = errors.New("record not found")
var ErrDuplicateReport = errors.New("report already filed")

type OutcomeStatus string

const (
	OutcomeResolved  OutcomeStatus = "resolved"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// MatchRecord is written once a match goes Active.
type MatchRecord struct {
	ID        string    `json:"id"`
	TeamA     []string  `json:"team_a"`
	TeamB     []string  `json:"team_b"`
	Diff      float64   `json:"diff"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at"`
}

type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Winner  string        `json:"winner,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	EndedAt time.Time     `json:"ended_at"`
}

type Report struct {
	ID         string    `json:"id"`
	MatchID    string    `json:"match_id"`
	ReporterID string    `json:"reporter_id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store writes are idempotent upserts keyed by id. The match lifecycle never
// reads back what it wrote.
type Store interface {
	SaveMatch(ctx context.Context, rec MatchRecord) error
	UpdateOutcome(ctx context.Context, matchID string, outcome Outcome) error
	SavePlayerRating(ctx context.Context, playerID string, rating player.Rating) error
	LoadPlayers(ctx context.Context) ([]player.Player, error)
	SaveReport(ctx context.Context, r Report) error
	ListReports(ctx context.Context) ([]Report, error)
}
