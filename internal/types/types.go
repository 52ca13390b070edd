package types

import "time"

type ClientMessage struct {
	Type string `json:"type"` // "Ping"
}

type ServerMessage struct {
	Type     string     `json:"type"` // "Subscribed" | "Notification" | "Pong" | "Error"
	Audience string     `json:"audience,omitempty"`
	Text     string     `json:"text,omitempty"`
	At       *time.Time `json:"at,omitempty"`
	Error    string     `json:"error,omitempty"`
}
