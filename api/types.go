package api

import (
	"context"
	"time"

	"chatrank/domain"
)

// EventWriter appends validated chat events to the event store.
type EventWriter interface {
	AddEvent(ctx context.Context, ev domain.ChatEvent) error
}

// Registry is the subscriber bookkeeping surface for connect/disconnect.
type Registry interface {
	AddSubscriber(ctx context.Context, id string) error
	RemoveSubscriber(ctx context.Context, id string) error
}

// Ranker computes an identity-enriched leaderboard snapshot.
type Ranker interface {
	ComputeLeaderboard(ctx context.Context, windowEnd int64, windowLen time.Duration) (domain.Snapshot, error)
}

// Sender pushes a payload to a single subscriber connection.
type Sender interface {
	Send(ctx context.Context, subscriberID string, payload []byte) error
}

// SnapshotReader reads back leaderboard snapshots persisted by earlier runs.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, key string, windowEnd int64) (domain.Snapshot, error)
}
