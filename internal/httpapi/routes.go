package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/hub"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/ws"
	apitypes "github.com/DoyleJ11/inhouse-matchmaker/pkg/types"
)

func SetupRoutes(h *hub.Hub, b *ws.Broadcaster, adminToken string, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log.Named("http")))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(b, adminToken))

	r.Post("/queue", JoinQueue(h))
	r.Get("/queue", GetQueue(h))
	r.Delete("/queue/{playerID}", LeaveQueue(h))

	r.Post("/lobbies", CreateLobby(h))
	r.Get("/players/{playerID}", GetPlayer(h))

	r.Route("/matches/{matchID}", func(r chi.Router) {
		r.Get("/", GetMatch(h))
		r.Post("/players", JoinLobby(h))
		r.Post("/votes", Vote(h))
		r.Post("/reports", FileReport(h))

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin(adminToken))
			r.Delete("/", DestroyMatch(h))
			r.Post("/hold", Hold(h))
			r.Post("/end", EndMatch(h))
		})
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(RequireAdmin(adminToken))
		r.Post("/matches", StartGame(h))
		r.Get("/reports", ListReports(h))
	})
	return r
}

// RequireAdmin checks for "Authorization: Bearer <token>". An empty token
// leaves admin routes open, which is only meant for local runs.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
					writeJSON(w, http.StatusUnauthorized, apitypes.ErrorResponse{Error: "admin token required"})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
