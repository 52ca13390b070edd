package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/config"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/httpapi"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/hub"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/lobby"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/notify"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/player"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/rating"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/store"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/voice"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/ws"
)

const redisPrefix = "matchmaker:"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet.
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := newLogger(cfg.LogDev)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(dev bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewExample()
	}
	return log
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := player.NewRegistry(cfg.InitialRating())
	known, err := st.LoadPlayers(ctx)
	if err != nil {
		return err
	}
	registry.Seed(known)
	log.Info("player ratings loaded", zap.Int("players", registry.Len()))

	broadcaster := ws.NewBroadcaster(ctx, log)
	defer broadcaster.Close()

	notifiers := notify.Fanout{broadcaster}
	var provisioner voice.Provisioner = voice.NewMemoryProvisioner()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		notifiers = append(notifiers, notify.NewRedisNotifier(rdb, redisPrefix))
		provisioner = voice.NewRedisProvisioner(rdb, redisPrefix, cfg.VoiceSessionTTL())
		log.Info("redis connected", zap.String("addr", opts.Addr))
	} else {
		notifiers = append(notifiers, notify.NewLogNotifier(log))
	}

	h, err := hub.NewHub(ctx, hub.Config{
		Rules:             cfg.Rules(),
		FinishedCacheSize: cfg.FinishedCacheSize,
	}, lobby.Deps{
		Registry:        registry,
		Rater:           rating.NewTrueSkill(cfg.Rating()),
		Notifier:        notifiers,
		Store:           st,
		Provisioner:     provisioner,
		Logger:          log,
		Quorum:          cfg.Quorum,
		PersistAttempts: cfg.PersistAttempts,
		ReleaseAttempts: cfg.ReleaseAttempts,
	})
	if err != nil {
		return err
	}
	defer h.Shutdown()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(h, broadcaster, cfg.AdminToken, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN is empty; admin routes are open")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN is empty; using the in-memory store")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.Connect(ctx, cfg.PostgresDSN, log)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}, nil
}
