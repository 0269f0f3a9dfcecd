package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"chatrank/domain"
)

type fakeRegistry struct {
	mu      sync.Mutex
	subs    []domain.Subscriber
	removed []string
	listErr error
}

func (f *fakeRegistry) ListSubscribers(context.Context) ([]domain.Subscriber, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Subscriber(nil), f.subs...), nil
}

func (f *fakeRegistry) RemoveSubscriber(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	kept := f.subs[:0]
	for _, s := range f.subs {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	f.subs = kept
	return nil
}

type fakeTransport struct {
	mu    sync.Mutex
	sends map[string]int
	fail  map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sends: map[string]int{}, fail: map[string]error{}}
}

func (f *fakeTransport) Send(_ context.Context, id string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends[id]++
	if err, ok := f.fail[id]; ok {
		return err
	}
	return nil
}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger
}

func subscribers(ids ...string) []domain.Subscriber {
	out := make([]domain.Subscriber, len(ids))
	for i, id := range ids {
		out[i] = domain.Subscriber{ID: id}
	}
	return out
}

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		WindowStart: 100,
		WindowEnd:   200,
		Entries: []domain.RankedEntry{
			{ParticipantID: "u1", DisplayName: "one", EventCount: 3},
		},
		ProcessedAt: 201,
	}
}

func TestBroadcastPrunesGoneSubscriber(t *testing.T) {
	registry := &fakeRegistry{subs: subscribers("S1", "S2", "S3")}
	transport := newFakeTransport()
	transport.fail["S2"] = ErrGone
	b := New(registry, transport, quietLogger(), WithWorkers(2))

	res, err := b.Broadcast(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if res.Delivered != 2 || res.Pruned != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(registry.removed) != 1 || registry.removed[0] != "S2" {
		t.Fatalf("S2 should be pruned, removed: %v", registry.removed)
	}
	for _, id := range []string{"S1", "S2", "S3"} {
		if transport.sends[id] != 1 {
			t.Fatalf("%s should receive exactly one delivery, got %d", id, transport.sends[id])
		}
	}
}

func TestBroadcastPayloadIsTypedRankingMessage(t *testing.T) {
	registry := &fakeRegistry{subs: subscribers("S1")}
	var captured []byte
	transport := &captureTransport{}
	b := New(registry, transport, quietLogger())

	if _, err := b.Broadcast(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	captured = transport.payload

	var msg domain.RankingMessage
	if err := sonic.Unmarshal(captured, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg.Type != domain.MessageTypeRanking {
		t.Fatalf("unexpected message type: %q", msg.Type)
	}
	if len(msg.Data.Entries) != 1 || msg.Data.Entries[0].ParticipantID != "u1" {
		t.Fatalf("unexpected snapshot data: %#v", msg.Data)
	}
}

type captureTransport struct {
	mu      sync.Mutex
	payload []byte
}

func (c *captureTransport) Send(_ context.Context, _ string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = append([]byte(nil), payload...)
	return nil
}

func TestBroadcastFailFastPropagatesError(t *testing.T) {
	registry := &fakeRegistry{subs: subscribers("S1", "S2", "S3", "S4")}
	transport := newFakeTransport()
	boom := errors.New("transport exploded")
	transport.fail["S1"] = boom

	// One worker makes the fail-fast cutoff deterministic: S1 errors first,
	// nothing after it is attempted.
	b := New(registry, transport, quietLogger(), WithWorkers(1))
	res, err := b.Broadcast(context.Background(), testSnapshot())
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if res.Delivered != 0 {
		t.Fatalf("no deliveries expected, got %+v", res)
	}
	if transport.sends["S1"] != 1 {
		t.Fatalf("S1 should be attempted once, got %d", transport.sends["S1"])
	}
	for _, id := range []string{"S2", "S3", "S4"} {
		if transport.sends[id] != 0 {
			t.Fatalf("%s should be left unprocessed after fail-fast", id)
		}
	}
	if len(registry.removed) != 0 {
		t.Fatalf("non-gone errors must not prune: %v", registry.removed)
	}
}

func TestBroadcastContinueOnError(t *testing.T) {
	registry := &fakeRegistry{subs: subscribers("S1", "S2", "S3")}
	transport := newFakeTransport()
	transport.fail["S2"] = errors.New("flaky pipe")
	b := New(registry, transport, quietLogger(), WithWorkers(1), WithContinueOnError(true))

	res, err := b.Broadcast(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("continue-on-error should not propagate: %v", err)
	}
	if res.Delivered != 2 || res.Pruned != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, id := range []string{"S1", "S2", "S3"} {
		if transport.sends[id] != 1 {
			t.Fatalf("%s should be attempted exactly once", id)
		}
	}
}

func TestBroadcastEmptyRegistry(t *testing.T) {
	registry := &fakeRegistry{}
	transport := newFakeTransport()
	b := New(registry, transport, quietLogger())

	res, err := b.Broadcast(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if res.Delivered != 0 || res.Pruned != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestBroadcastRegistryFailure(t *testing.T) {
	registry := &fakeRegistry{listErr: errors.New("registry offline")}
	b := New(registry, newFakeTransport(), quietLogger())

	if _, err := b.Broadcast(context.Background(), testSnapshot()); err == nil {
		t.Fatal("expected registry error to propagate")
	}
}

func TestBroadcastManySubscribersParallel(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	registry := &fakeRegistry{subs: subscribers(ids...)}
	transport := newFakeTransport()
	b := New(registry, transport, quietLogger(), WithWorkers(8))

	res, err := b.Broadcast(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if res.Delivered != len(ids) {
		t.Fatalf("expected %d deliveries, got %+v", len(ids), res)
	}
	for _, id := range ids {
		if transport.sends[id] != 1 {
			t.Fatalf("%s delivered %d times", id, transport.sends[id])
		}
	}
}
