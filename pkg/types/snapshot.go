package types

import "time"

type Tally struct {
	A int `json:"a"`
	B int `json:"b"`
}

// MatchSnapshot is the public view of a live or recently finished match.
// Teams are only set once balancing succeeded; Winner only when Resolved;
// Reason only when Cancelled; Tally only while votes are being collected.
type MatchSnapshot struct {
	ID             string     `json:"id"`
	State          string     `json:"state"`
	Version        int        `json:"version"`
	Roster         []string   `json:"roster"`
	TeamA          []string   `json:"team_a,omitempty"`
	TeamB          []string   `json:"team_b,omitempty"`
	Winner         string     `json:"winner,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	Tally          *Tally     `json:"tally,omitempty"`
	Quorum         int        `json:"quorum,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LobbyDeadline  time.Time  `json:"lobby_deadline"`
	ResultDeadline *time.Time `json:"result_deadline,omitempty"`
	VoteDeadline   *time.Time `json:"vote_deadline,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

type QueueSnapshot struct {
	Players []string `json:"players"`
}

type PlayerSnapshot struct {
	ID    string  `json:"id"`
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
}
