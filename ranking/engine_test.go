package ranking

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"chatrank/domain"
	"chatrank/identity"
)

type stubResolver struct {
	identities map[string]domain.Identity
	err        error
	calls      [][]string
}

func (s *stubResolver) Resolve(_ context.Context, ids []string) (map[string]domain.Identity, error) {
	s.calls = append(s.calls, append([]string(nil), ids...))
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]domain.Identity{}
	for _, id := range ids {
		if v, ok := s.identities[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

type stubSnapshotStore struct {
	err   error
	key   string
	snaps []domain.Snapshot
}

func (s *stubSnapshotStore) AddSnapshot(_ context.Context, key string, snap domain.Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.key = key
	s.snaps = append(s.snaps, snap)
	return nil
}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger
}

func newTestEngine(store EventStore, resolver Resolver, snaps SnapshotStore) *Engine {
	e := NewEngine(NewAggregator(store), resolver, snaps, quietLogger())
	e.now = func() int64 { return 42_000 }
	return e
}

func TestComputeLeaderboardScenario(t *testing.T) {
	t0 := int64(1000)
	store := &fakeEventStore{pages: [][]domain.ChatEvent{{
		ev("u1", t0), ev("u2", t0+1), ev("u1", t0+2), ev("u3", t0+3), ev("u2", t0+4), ev("u1", t0+5),
	}}}
	resolver := &stubResolver{identities: map[string]domain.Identity{
		"u1": {ID: "u1", DisplayName: "one", AvatarURL: "https://cdn/1.png"},
		"u2": {ID: "u2", DisplayName: "two", AvatarURL: "https://cdn/2.png"},
		"u3": {ID: "u3", DisplayName: "three", AvatarURL: "https://cdn/3.png"},
	}}
	snaps := &stubSnapshotStore{}
	engine := newTestEngine(store, resolver, snaps)

	windowEnd := t0 + 100
	snap, err := engine.ComputeLeaderboard(context.Background(), windowEnd, time.Minute)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := []domain.RankedEntry{
		{ParticipantID: "u1", DisplayName: "one", AvatarURL: "https://cdn/1.png", EventCount: 3},
		{ParticipantID: "u2", DisplayName: "two", AvatarURL: "https://cdn/2.png", EventCount: 2},
		{ParticipantID: "u3", DisplayName: "three", AvatarURL: "https://cdn/3.png", EventCount: 1},
	}
	if !reflect.DeepEqual(snap.Entries, want) {
		t.Fatalf("unexpected entries: %#v", snap.Entries)
	}
	if snap.WindowEnd != windowEnd || snap.WindowStart != windowEnd-time.Minute.Milliseconds() {
		t.Fatalf("unexpected window: [%d, %d)", snap.WindowStart, snap.WindowEnd)
	}
	if snap.ProcessedAt != 42_000 {
		t.Fatalf("unexpected processedAt: %d", snap.ProcessedAt)
	}
	if snaps.key != RankingKey || len(snaps.snaps) != 1 {
		t.Fatalf("snapshot not persisted under ranking key: %q", snaps.key)
	}
	if !reflect.DeepEqual(snaps.snaps[0], snap) {
		t.Fatal("persisted snapshot differs from returned snapshot")
	}
}

func TestComputeLeaderboardDropsUnresolvedKeepingOrder(t *testing.T) {
	store := &fakeEventStore{pages: [][]domain.ChatEvent{{
		ev("A", 10), ev("A", 11), ev("A", 12), ev("A", 13), ev("A", 14),
		ev("B", 20), ev("B", 21), ev("B", 22),
		ev("C", 30),
	}}}
	resolver := &stubResolver{identities: map[string]domain.Identity{
		"A": {ID: "A", DisplayName: "alpha"},
		"C": {ID: "C", DisplayName: "gamma"},
	}}
	snaps := &stubSnapshotStore{}
	engine := newTestEngine(store, resolver, snaps)

	snap, err := engine.ComputeLeaderboard(context.Background(), 100, time.Second)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("expected B dropped, got %#v", snap.Entries)
	}
	if snap.Entries[0].ParticipantID != "A" || snap.Entries[0].EventCount != 5 {
		t.Fatalf("unexpected first entry: %#v", snap.Entries[0])
	}
	if snap.Entries[1].ParticipantID != "C" || snap.Entries[1].EventCount != 1 {
		t.Fatalf("unexpected second entry: %#v", snap.Entries[1])
	}
}

func TestComputeLeaderboardEmptyWindow(t *testing.T) {
	store := &fakeEventStore{}
	resolver := &stubResolver{}
	snaps := &stubSnapshotStore{}
	engine := newTestEngine(store, resolver, snaps)

	snap, err := engine.ComputeLeaderboard(context.Background(), 1000, time.Second)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(snap.Entries) != 0 {
		t.Fatalf("expected empty snapshot, got %#v", snap.Entries)
	}
	if len(resolver.calls) != 0 {
		t.Fatal("resolver should not run for an empty window")
	}
	if len(snaps.snaps) != 0 {
		t.Fatal("empty snapshot should not be persisted")
	}
}

func TestComputeLeaderboardPersistFailureReturnsSnapshot(t *testing.T) {
	store := &fakeEventStore{pages: [][]domain.ChatEvent{{ev("u1", 10)}}}
	resolver := &stubResolver{identities: map[string]domain.Identity{
		"u1": {ID: "u1", DisplayName: "one"},
	}}
	snaps := &stubSnapshotStore{err: errors.New("table offline")}
	engine := newTestEngine(store, resolver, snaps)

	snap, err := engine.ComputeLeaderboard(context.Background(), 100, time.Second)
	var writeErr SnapshotWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("expected SnapshotWriteError, got %v", err)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].ParticipantID != "u1" {
		t.Fatalf("computed snapshot should survive a persist failure: %#v", snap)
	}
}

func TestComputeLeaderboardDirectoryFailurePropagates(t *testing.T) {
	store := &fakeEventStore{pages: [][]domain.ChatEvent{{ev("u1", 10)}}}
	resolver := &stubResolver{err: identity.UnavailableError{Err: errors.New("boom")}}
	snaps := &stubSnapshotStore{}
	engine := newTestEngine(store, resolver, snaps)

	_, err := engine.ComputeLeaderboard(context.Background(), 100, time.Second)
	var unavailable identity.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if len(snaps.snaps) != 0 {
		t.Fatal("no snapshot should be persisted when resolution fails")
	}
}
