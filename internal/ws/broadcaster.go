package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/inhouse-matchmaker/internal/notify"
)

type bcMsg interface{ isBroadcastMsg() }

type join struct {
	ClientID string
	Audience notify.Audience
	Outbox   chan notify.Message
}

type leave struct{ ClientID string }

type publish struct{ Msg notify.Message }

type count struct{ Reply chan int }

func (join) isBroadcastMsg()    {}
func (leave) isBroadcastMsg()   {}
func (publish) isBroadcastMsg() {}
func (count) isBroadcastMsg()   {}

type client struct {
	audience notify.Audience
	outbox   chan notify.Message
}

// Broadcaster is a Notifier that fans messages out to websocket clients
// subscribed to the message's audience.
type Broadcaster struct {
	inbox   chan bcMsg
	clients map[string]client
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

func NewBroadcaster(parent context.Context, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	b := &Broadcaster{
		inbox:   make(chan bcMsg, 64),
		clients: make(map[string]client),
		log:     log.Named("ws"),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
	go b.loop()
	return b
}

func (b *Broadcaster) loop() {
	for {
		select {
		case <-b.ctx.Done():
			for id, c := range b.clients {
				close(c.outbox)
				delete(b.clients, id)
			}
			return

		case m := <-b.inbox:
			switch msg := m.(type) {
			case join:
				b.clients[msg.ClientID] = client{audience: msg.Audience, outbox: msg.Outbox}

			case leave:
				if c, ok := b.clients[msg.ClientID]; ok {
					close(c.outbox)
					delete(b.clients, msg.ClientID)
				}

			case publish:
				for id, c := range b.clients {
					if c.audience != msg.Msg.Audience {
						continue
					}
					select {
					case c.outbox <- msg.Msg:
					default:
						// Client is slow/full - drop them.
						b.log.Info("dropping slow client", zap.String("client_id", id))
						close(c.outbox)
						delete(b.clients, id)
					}
				}

			case count:
				msg.Reply <- len(b.clients)
			}
		}
	}
}

func (b *Broadcaster) Notify(ctx context.Context, audience notify.Audience, text string) error {
	return b.send(ctx, publish{Msg: notify.Message{Audience: audience, Text: text, At: b.now().UTC()}})
}

func (b *Broadcaster) Clients(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := b.send(ctx, count{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (b *Broadcaster) Close() { b.cancel() }

func (b *Broadcaster) send(ctx context.Context, m bcMsg) error {
	select {
	case b.inbox <- m:
		return nil
	case <-b.ctx.Done():
		return b.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
