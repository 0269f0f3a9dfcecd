package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"chatrank/domain"
)

// SnapshotNotFoundError reports that no snapshot row exists for the window.
type SnapshotNotFoundError struct {
	Key       string
	WindowEnd int64
}

func (e SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("no snapshot for %s at window end %d", e.Key, e.WindowEnd)
}

type snapshotEntity struct {
	aztables.Entity
	WindowStart string `json:"WindowStart"`
	ProcessedAt string `json:"ProcessedAt"`
	Entries     string `json:"Entries"`
}

func snapshotRowKey(windowEnd int64) string {
	return fmt.Sprintf("%016d", windowEnd)
}

func newSnapshotEntity(key string, snap domain.Snapshot) (snapshotEntity, error) {
	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return snapshotEntity{}, err
	}
	return snapshotEntity{
		Entity: aztables.Entity{
			PartitionKey: key,
			RowKey:       snapshotRowKey(snap.WindowEnd),
		},
		WindowStart: strconv.FormatInt(snap.WindowStart, 10),
		ProcessedAt: strconv.FormatInt(snap.ProcessedAt, 10),
		Entries:     string(entries),
	}, nil
}

func (e snapshotEntity) snapshot() (domain.Snapshot, error) {
	windowEnd, err := strconv.ParseInt(e.RowKey, 10, 64)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot %s/%s: bad row key: %w", e.PartitionKey, e.RowKey, err)
	}
	windowStart, err := strconv.ParseInt(e.WindowStart, 10, 64)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot %s/%s: bad WindowStart %q: %w", e.PartitionKey, e.RowKey, e.WindowStart, err)
	}
	processedAt, err := strconv.ParseInt(e.ProcessedAt, 10, 64)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot %s/%s: bad ProcessedAt %q: %w", e.PartitionKey, e.RowKey, e.ProcessedAt, err)
	}
	entries := []domain.RankedEntry{}
	if e.Entries != "" {
		if err := json.Unmarshal([]byte(e.Entries), &entries); err != nil {
			return domain.Snapshot{}, fmt.Errorf("snapshot %s/%s: bad Entries: %w", e.PartitionKey, e.RowKey, err)
		}
	}
	return domain.Snapshot{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Entries:     entries,
		ProcessedAt: processedAt,
	}, nil
}

// AddSnapshot appends a leaderboard snapshot under the given ranking key.
// Each window keeps its own row; a replay of the same windowEnd replaces
// that row, so concurrent computations of one window converge.
func (s *Storage) AddSnapshot(ctx context.Context, key string, snap domain.Snapshot) error {
	ent, err := newSnapshotEntity(key, snap)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.rankingTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	return err
}

// GetSnapshot reads back the snapshot stored for the given ranking key and
// window end.
func (s *Storage) GetSnapshot(ctx context.Context, key string, windowEnd int64) (domain.Snapshot, error) {
	resp, err := s.rankingTable.GetEntity(ctx, key, snapshotRowKey(windowEnd), nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return domain.Snapshot{}, SnapshotNotFoundError{Key: key, WindowEnd: windowEnd}
		}
		return domain.Snapshot{}, err
	}
	var ent snapshotEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Snapshot{}, err
	}
	return ent.snapshot()
}
