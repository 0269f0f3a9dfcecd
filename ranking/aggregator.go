package ranking

import (
	"context"
	"sort"

	"chatrank/domain"
)

// EventStore is the paginated event scan surface the aggregator reads from.
// An empty returned token means the scan is exhausted.
type EventStore interface {
	ScanEvents(ctx context.Context, start, end int64, pageToken string) ([]domain.ChatEvent, string, error)
}

// Aggregator counts events per participant over a time window and extracts
// the top-K.
type Aggregator struct {
	store EventStore
	topK  int
}

// NewAggregator creates an aggregator reading from the given store.
func NewAggregator(store EventStore) *Aggregator {
	return &Aggregator{store: store, topK: domain.TopK}
}

// Aggregate scans the half-open window [start, end) and returns at most K
// entries ordered by descending count. Ties keep first-seen scan order; that
// is an implementation choice, not a fairness guarantee. An empty window
// yields an empty slice, not an error.
func (a *Aggregator) Aggregate(ctx context.Context, start, end int64) ([]domain.LeaderboardEntry, error) {
	counts := make(map[string]int)
	order := make([]string, 0, 64)

	token := ""
	for {
		events, next, err := a.store.ScanEvents(ctx, start, end, token)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if ev.ChatterID == "" {
				continue
			}
			if _, seen := counts[ev.ChatterID]; !seen {
				order = append(order, ev.ChatterID)
			}
			counts[ev.ChatterID]++
		}
		if next == "" {
			break
		}
		token = next
	}

	entries := make([]domain.LeaderboardEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, domain.LeaderboardEntry{ParticipantID: id, EventCount: counts[id]})
	}
	// Stable sort over first-seen order keeps the tie-break deterministic.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EventCount > entries[j].EventCount
	})
	if len(entries) > a.topK {
		entries = entries[:a.topK]
	}
	return entries, nil
}
