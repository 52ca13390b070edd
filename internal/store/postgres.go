package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
)

type Postgres struct {
	db  *gorm.DB
	log *zap.Logger
}

// Connect opens and pings the database. Call Migrate before first use.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db, log), nil
}

func NewPostgres(db *gorm.DB, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{db: db, log: log}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(&matchModel{}, &playerModel{}, &reportModel{})
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) SaveMatch(ctx context.Context, rec MatchRecord) error {
	row := matchModelFromRecord(rec)
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"team_a", "team_b", "diff", "started_at"}),
	}).Create(&row).Error
	if err != nil {
		return p.logError("save_match_failed", err, zap.String("match_id", rec.ID))
	}
	return nil
}

func (p *Postgres) UpdateOutcome(ctx context.Context, matchID string, outcome Outcome) error {
	res := p.db.WithContext(ctx).
		Model(&matchModel{}).
		Where("id = ?", matchID).
		Updates(map[string]any{
			"status":   string(outcome.Status),
			"winner":   outcome.Winner,
			"reason":   outcome.Reason,
			"ended_at": outcome.EndedAt,
		})
	if res.Error != nil {
		return p.logError("update_outcome_failed", res.Error, zap.String("match_id", matchID))
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SavePlayerRating(ctx context.Context, playerID string, rating player.Rating) error {
	row := playerModel{ID: playerID, Mu: rating.Mu, Sigma: rating.Sigma, UpdatedAt: time.Now().UTC()}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mu", "sigma", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return p.logError("save_player_rating_failed", err, zap.String("player_id", playerID))
	}
	return nil
}

func (p *Postgres) LoadPlayers(ctx context.Context) ([]player.Player, error) {
	var rows []playerModel
	if err := p.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, p.logError("load_players_failed", err)
	}
	out := make([]player.Player, len(rows))
	for i, r := range rows {
		out[i] = player.Player{ID: r.ID, Rating: player.Rating{Mu: r.Mu, Sigma: r.Sigma}}
	}
	return out, nil
}

func (p *Postgres) SaveReport(ctx context.Context, r Report) error {
	row := reportModel(r)
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReport
		}
		return p.logError("save_report_failed", err,
			zap.String("report_id", r.ID),
			zap.String("match_id", r.MatchID),
		)
	}
	return nil
}

func (p *Postgres) ListReports(ctx context.Context) ([]Report, error) {
	var rows []reportModel
	if err := p.db.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, p.logError("list_reports_failed", err)
	}
	out := make([]Report, len(rows))
	for i, r := range rows {
		out[i] = Report(r)
	}
	return out, nil
}

func (p *Postgres) logError(event string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("event", event), zap.Error(err))
	p.log.Error("store operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type matchModel struct {
	ID        string     `gorm:"column:id;primaryKey"`
	TeamA     []string   `gorm:"column:team_a;serializer:json"`
	TeamB     []string   `gorm:"column:team_b;serializer:json"`
	Diff      float64    `gorm:"column:diff"`
	Status    string     `gorm:"column:status"`
	Winner    string     `gorm:"column:winner"`
	Reason    string     `gorm:"column:reason"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	StartedAt time.Time  `gorm:"column:started_at"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
}

func (matchModel) TableName() string { return "matches" }

func matchModelFromRecord(rec MatchRecord) matchModel {
	return matchModel{
		ID:        rec.ID,
		TeamA:     rec.TeamA,
		TeamB:     rec.TeamB,
		Diff:      rec.Diff,
		Status:    "active",
		CreatedAt: rec.CreatedAt.UTC(),
		StartedAt: rec.StartedAt.UTC(),
	}
}

type playerModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Mu        float64   `gorm:"column:mu"`
	Sigma     float64   `gorm:"column:sigma"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (playerModel) TableName() string { return "players" }

type reportModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	MatchID    string    `gorm:"column:match_id;index"`
	ReporterID string    `gorm:"column:reporter_id"`
	Text       string    `gorm:"column:text"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (reportModel) TableName() string { return "reports" }

var _ Store = (*Postgres)(nil)
var _ Store = (*Memory)(nil)
