package ranking

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"chatrank/domain"
)

// RankingKey identifies the chat-activity leaderboard in the snapshot store.
const RankingKey = "chatter_activity"

// DefaultWindow is the sliding window length when none is configured.
const DefaultWindow = 30 * 24 * time.Hour

// SnapshotWriteError reports a failed snapshot persist. The computed
// snapshot value still reaches the caller alongside this error.
type SnapshotWriteError struct {
	Err error
}

func (e SnapshotWriteError) Error() string {
	return fmt.Sprintf("ranking: snapshot write failed: %v", e.Err)
}

func (e SnapshotWriteError) Unwrap() error { return e.Err }

// Resolver maps participant ids to identities.
type Resolver interface {
	Resolve(ctx context.Context, ids []string) (map[string]domain.Identity, error)
}

// SnapshotStore persists computed snapshots, appending one row per window.
type SnapshotStore interface {
	AddSnapshot(ctx context.Context, key string, snap domain.Snapshot) error
}

// Engine orchestrates aggregation and identity resolution into a persisted,
// identity-enriched leaderboard snapshot.
type Engine struct {
	aggregator *Aggregator
	resolver   Resolver
	snapshots  SnapshotStore
	logger     *log.Logger
	now        func() int64
}

// NewEngine wires an engine from its collaborators.
func NewEngine(aggregator *Aggregator, resolver Resolver, snapshots SnapshotStore, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{
		aggregator: aggregator,
		resolver:   resolver,
		snapshots:  snapshots,
		logger:     logger,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// ComputeLeaderboard builds the snapshot for the window ending at windowEnd
// (Unix milliseconds). Participants whose identity does not resolve are
// silently dropped; aggregator order is never re-sorted after enrichment.
// A persistence failure is returned as SnapshotWriteError together with the
// computed snapshot, so a synchronous requester is not blocked by a storage
// fault. Empty windows produce an empty snapshot and skip persistence.
func (e *Engine) ComputeLeaderboard(ctx context.Context, windowEnd int64, windowLen time.Duration) (domain.Snapshot, error) {
	windowStart := windowEnd - windowLen.Milliseconds()
	metrics, ctx := newRunMetrics(ctx, e.logger, windowStart, windowEnd)
	snap := domain.Snapshot{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Entries:     []domain.RankedEntry{},
	}

	scanStart := time.Now()
	top, err := e.aggregator.Aggregate(ctx, windowStart, windowEnd)
	metrics.ObserveScan(time.Since(scanStart))
	if err != nil {
		metrics.Finish("aggregate", err)
		return domain.Snapshot{}, err
	}
	if len(top) == 0 {
		snap.ProcessedAt = e.now()
		metrics.Finish("", nil)
		return snap, nil
	}

	ids := make([]string, len(top))
	for i, entry := range top {
		ids[i] = entry.ParticipantID
	}
	resolveStart := time.Now()
	identities, err := e.resolver.Resolve(ctx, ids)
	metrics.ObserveResolve(time.Since(resolveStart))
	if err != nil {
		metrics.Finish("resolve", err)
		return domain.Snapshot{}, err
	}

	for _, entry := range top {
		identity, ok := identities[entry.ParticipantID]
		if !ok {
			e.logger.WithField("participant_id", entry.ParticipantID).
				Debug("dropping unresolved participant from leaderboard")
			continue
		}
		snap.Entries = append(snap.Entries, domain.RankedEntry{
			ParticipantID: entry.ParticipantID,
			DisplayName:   identity.DisplayName,
			AvatarURL:     identity.AvatarURL,
			EventCount:    entry.EventCount,
		})
	}
	snap.ProcessedAt = e.now()
	metrics.SetEntries(len(snap.Entries))

	persistStart := time.Now()
	err = e.snapshots.AddSnapshot(ctx, RankingKey, snap)
	metrics.ObservePersist(time.Since(persistStart))
	if err != nil {
		metrics.Finish("persist", err)
		return snap, SnapshotWriteError{Err: err}
	}
	metrics.Finish("", nil)
	return snap, nil
}
