package domain

// Message types pushed to subscribers.
const (
	MessageTypeRanking = "ranking"
	MessageTypeError   = "error"
)

// RankingMessage is the payload delivered to subscribers when a new
// leaderboard snapshot is available.
type RankingMessage struct {
	Type string   `json:"type"`
	Data Snapshot `json:"data"`
}

// NewRankingMessage wraps a snapshot in its wire envelope.
func NewRankingMessage(snap Snapshot) RankingMessage {
	return RankingMessage{Type: MessageTypeRanking, Data: snap}
}

// ErrorMessage tells a subscriber that its request failed.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewErrorMessage builds an error envelope from a human-readable reason.
func NewErrorMessage(reason string) ErrorMessage {
	return ErrorMessage{Type: MessageTypeError, Error: reason}
}
