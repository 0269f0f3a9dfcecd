package domain

// ChatEvent is a single chat message as recorded by the ingestion endpoint.
// Events are immutable once stored; the ranking pipeline only reads them.
type ChatEvent struct {
	MessageID     string `json:"messageId"`
	ChatterID     string `json:"chatterId"`
	BroadcasterID string `json:"broadcasterId"`
	Text          string `json:"text,omitempty"`
	// ReceivedAt is the ingestion timestamp in Unix milliseconds.
	ReceivedAt int64 `json:"receivedAt"`
}
