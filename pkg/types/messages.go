package types

// Request bodies accepted by the HTTP API.

// POST /queue, POST /matches/{id}/players
type PlayerRequest struct {
	PlayerID string `json:"player_id"`
}

// POST /lobbies
type CreateLobbyRequest struct {
	CreatorID string `json:"creator_id"`
}

// POST /matches/{id}/votes. Team is "A" or "B".
type VoteRequest struct {
	PlayerID string `json:"player_id"`
	Team     string `json:"team"`
}

// POST /matches/{id}/end. An empty winner cancels the match.
type EndMatchRequest struct {
	Winner string `json:"winner,omitempty"`
}

// POST /matches/{id}/reports
type ReportRequest struct {
	ReporterID string `json:"reporter_id"`
	Text       string `json:"text"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
