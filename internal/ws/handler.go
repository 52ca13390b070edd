package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/notify"
	"github.com/DoyleJ11/inhouse-matchmaker/internal/types"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 3 * time.Second
	outboxSize   = 16
)

// Handler streams notifications for one audience (?audience=match:<id>,
// player:<id> or admin). The admin feed needs the admin token when one is set.
func Handler(b *Broadcaster, adminToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audience, ok := notify.ParseAudience(r.URL.Query().Get("audience"))
		if !ok {
			http.Error(w, "missing or invalid audience", http.StatusBadRequest)
			return
		}
		if audience == notify.AdminAudience && !adminAllowed(r, adminToken) {
			http.Error(w, "admin token required", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			b.log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan notify.Message, outboxSize)
		clientID := uuid.NewString()
		log := b.log.With(zap.String("client_id", clientID), zap.String("audience", string(audience)))

		if err := b.send(r.Context(), join{ClientID: clientID, Audience: audience, Outbox: out}); err != nil {
			return
		}
		defer func() { _ = b.send(context.Background(), leave{ClientID: clientID}) }()

		if err := writeJSON(r.Context(), conn, types.ServerMessage{Type: "Subscribed", Audience: string(audience)}); err != nil {
			return
		}

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range out {
				at := msg.At
				sm := types.ServerMessage{Type: "Notification", Audience: string(msg.Audience), Text: msg.Text, At: &at}
				if err := writeJSON(writeCtx, conn, sm); err != nil {
					log.Debug("write failed", zap.Error(err))
				}
			}
			// Dropped as a slow client, or the feed shut down.
			conn.Close(websocket.StatusGoingAway, "feed closed")
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read failed", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = writeJSON(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			switch cm.Type {
			case "Ping":
				_ = writeJSON(r.Context(), conn, types.ServerMessage{Type: "Pong"})
			default:
				_ = writeJSON(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "unknown type"})
			}
		}
	}
}

func adminAllowed(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	return r.URL.Query().Get("token") == token || r.Header.Get("Authorization") == "Bearer "+token
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
