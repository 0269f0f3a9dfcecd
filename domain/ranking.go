package domain

// TopK is the number of participants a leaderboard carries.
const TopK = 10

// LeaderboardEntry is a pre-enrichment count for one participant.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	EventCount    int    `json:"eventCount"`
}

// RankedEntry is an identity-enriched leaderboard row. Only participants
// whose identity resolved make it into a snapshot.
type RankedEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	AvatarURL     string `json:"avatarUrl"`
	EventCount    int    `json:"eventCount"`
}

// Snapshot is one computed leaderboard over a half-open window
// [WindowStart, WindowEnd). Snapshots are immutable once written; the next
// snapshot for the same ranking key supersedes rather than merges.
type Snapshot struct {
	WindowStart int64         `json:"windowStart"`
	WindowEnd   int64         `json:"windowEnd"`
	Entries     []RankedEntry `json:"entries"`
	ProcessedAt int64         `json:"processedAt"`
}

// Subscriber identifies one live push connection. The registry owns its
// lifecycle; the broadcaster only lists and removes.
type Subscriber struct {
	ID string `json:"id"`
}
