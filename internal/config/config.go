package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/JeremyLoy/config"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/engine"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/rating"
)

type Config struct {
	HTTPAddr    string `config:"HTTP_ADDR"`
	PostgresDSN string `config:"POSTGRES_DSN"`
	RedisURL    string `config:"REDIS_URL"`
	AdminToken  string `config:"ADMIN_TOKEN"`
	LogDev      bool   `config:"LOG_DEV"`

	LobbyDelay    time.Duration `config:"LOBBY_DELAY"`
	ResultWindow  time.Duration `config:"RESULT_WINDOW"`
	VoteWindow    time.Duration `config:"VOTE_WINDOW"`
	MaxRatingDiff float64       `config:"MAX_RATING_DIFF"`
	RosterSize    int           `config:"ROSTER_SIZE"`
	// Quorum 0 means strict majority of the roster.
	Quorum int `config:"QUORUM"`

	DefaultRating          float64 `config:"DEFAULT_RATING"`
	RatingSigma            float64 `config:"RATING_SIGMA"`
	RatingBeta             float64 `config:"RATING_BETA"`
	RatingTau              float64 `config:"RATING_TAU"`
	RatingDrawProbability  float64 `config:"RATING_DRAW_PROBABILITY"`
	PersistAttempts        int     `config:"PERSIST_ATTEMPTS"`
	ReleaseAttempts        int     `config:"RELEASE_ATTEMPTS"`
	FinishedCacheSize      int     `config:"FINISHED_CACHE_SIZE"`
	VoiceSessionTTLMinutes int     `config:"VOICE_SESSION_TTL_MINUTES"`
}

func Default() Config {
	return Config{
		HTTPAddr:               ":8080",
		LobbyDelay:             10 * time.Second,
		ResultWindow:           10 * time.Minute,
		VoteWindow:             10 * time.Minute,
		MaxRatingDiff:          200,
		RosterSize:             6,
		DefaultRating:          1000,
		RatingDrawProbability:  0.10,
		PersistAttempts:        5,
		ReleaseAttempts:        3,
		FinishedCacheSize:      256,
		VoiceSessionTTLMinutes: 180,
	}
}

// Load reads .env files when present, then the environment, over Default.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	cfg := Default()
	if err := config.FromEnv().To(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs error
	if c.RosterSize < 2 {
		errs = multierr.Append(errs, fmt.Errorf("ROSTER_SIZE must be at least 2, got %d", c.RosterSize))
	}
	if c.Quorum < 0 || c.Quorum > c.RosterSize {
		errs = multierr.Append(errs, fmt.Errorf("QUORUM must be between 0 and ROSTER_SIZE, got %d", c.Quorum))
	}
	if c.MaxRatingDiff < 0 {
		errs = multierr.Append(errs, errors.New("MAX_RATING_DIFF must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"LOBBY_DELAY":   c.LobbyDelay,
		"RESULT_WINDOW": c.ResultWindow,
		"VOTE_WINDOW":   c.VoteWindow,
	} {
		if d <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.DefaultRating <= 0 {
		errs = multierr.Append(errs, errors.New("DEFAULT_RATING must be positive"))
	}
	if c.RatingDrawProbability < 0 || c.RatingDrawProbability >= 1 {
		errs = multierr.Append(errs, errors.New("RATING_DRAW_PROBABILITY must be in [0, 1)"))
	}
	if c.ReleaseAttempts < 2 {
		errs = multierr.Append(errs, errors.New("RELEASE_ATTEMPTS must allow at least one retry"))
	}
	return errs
}

func (c Config) Rules() engine.Rules {
	return engine.Rules{
		Capacity:      c.RosterSize,
		MaxRatingDiff: c.MaxRatingDiff,
		LobbyDelay:    c.LobbyDelay,
		ResultWindow:  c.ResultWindow,
		VoteWindow:    c.VoteWindow,
	}
}

// Rating starts from the defaults for DefaultRating and overrides whatever
// was set explicitly. Sigma, beta and tau scale with DefaultRating, so 0 keeps
// the scaled default; the draw probability is taken as is and 0 disables
// the draw margin.
func (c Config) Rating() rating.Config {
	rc := rating.DefaultConfig(c.DefaultRating)
	if c.RatingSigma > 0 {
		rc.Sigma = c.RatingSigma
	}
	if c.RatingBeta > 0 {
		rc.Beta = c.RatingBeta
	}
	if c.RatingTau > 0 {
		rc.Tau = c.RatingTau
	}
	rc.DrawProbability = c.RatingDrawProbability
	return rc
}

func (c Config) InitialRating() player.Rating {
	return c.Rating().Initial()
}

func (c Config) VoiceSessionTTL() time.Duration {
	return time.Duration(c.VoiceSessionTTLMinutes) * time.Minute
}
