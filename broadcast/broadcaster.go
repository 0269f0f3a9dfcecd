package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"chatrank/domain"
)

var (
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrank_broadcast_delivered_total",
		Help: "Snapshot deliveries that reached a subscriber.",
	})
	prunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrank_broadcast_pruned_total",
		Help: "Subscribers removed after the transport reported them gone.",
	})
)

// Registry is the subscriber bookkeeping surface the broadcaster reads from
// and prunes.
type Registry interface {
	ListSubscribers(ctx context.Context) ([]domain.Subscriber, error)
	RemoveSubscriber(ctx context.Context, id string) error
}

// Result summarizes one fan-out.
type Result struct {
	Delivered int
	Pruned    int
}

const (
	defaultWorkers     = 8
	defaultSendTimeout = 15 * time.Second
)

// Broadcaster fans a leaderboard snapshot out to every live subscriber.
// Delivery runs on a bounded worker pool; order across subscribers is not
// guaranteed. A "gone" subscriber is pruned and the fan-out continues. Any
// other transport error aborts the remaining fan-out by default; the
// continue-on-error mode logs and keeps going instead.
type Broadcaster struct {
	registry        Registry
	transport       Transport
	logger          *log.Logger
	workers         int
	sendTimeout     time.Duration
	continueOnError bool
}

// Option tweaks a Broadcaster.
type Option func(*Broadcaster)

// WithWorkers bounds delivery concurrency.
func WithWorkers(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithSendTimeout bounds each delivery attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// WithContinueOnError keeps the fan-out going past non-"gone" transport
// errors instead of failing fast.
func WithContinueOnError(enabled bool) Option {
	return func(b *Broadcaster) { b.continueOnError = enabled }
}

// New wires a broadcaster from its collaborators.
func New(registry Registry, transport Transport, logger *log.Logger, opts ...Option) *Broadcaster {
	if logger == nil {
		logger = log.StandardLogger()
	}
	b := &Broadcaster{
		registry:    registry,
		transport:   transport,
		logger:      logger,
		workers:     defaultWorkers,
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast delivers the snapshot to all current subscribers. Each
// subscriber is attempted at most once per call.
func (b *Broadcaster) Broadcast(ctx context.Context, snap domain.Snapshot) (Result, error) {
	subs, err := b.registry.ListSubscribers(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(subs) == 0 {
		return Result{}, nil
	}

	payload, err := sonic.Marshal(domain.NewRankingMessage(snap))
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan domain.Subscriber)
	var (
		mu       sync.Mutex
		result   Result
		firstErr error
		wg       sync.WaitGroup
	)

	workers := b.workers
	if workers > len(subs) {
		workers = len(subs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				if ctx.Err() != nil {
					continue // fail-fast tripped, drain remaining jobs unsent
				}
				b.deliver(ctx, sub, payload, &mu, &result, &firstErr, cancel)
			}
		}()
	}

feed:
	for _, sub := range subs {
		select {
		case jobs <- sub:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return result, firstErr
}

func (b *Broadcaster) deliver(ctx context.Context, sub domain.Subscriber, payload []byte,
	mu *sync.Mutex, result *Result, firstErr *error, cancel context.CancelFunc) {

	sendCtx, done := context.WithTimeout(ctx, b.sendTimeout)
	err := b.transport.Send(sendCtx, sub.ID, payload)
	done()

	switch {
	case err == nil:
		deliveredTotal.Inc()
		mu.Lock()
		result.Delivered++
		mu.Unlock()

	case errors.Is(err, ErrGone):
		if rmErr := b.registry.RemoveSubscriber(ctx, sub.ID); rmErr != nil {
			b.logger.WithError(rmErr).WithField("subscriber_id", sub.ID).
				Error("failed to prune gone subscriber")
		}
		prunedTotal.Inc()
		mu.Lock()
		result.Pruned++
		mu.Unlock()

	case b.continueOnError:
		b.logger.WithError(err).WithField("subscriber_id", sub.ID).
			Error("delivery failed, continuing fan-out")

	default:
		mu.Lock()
		if *firstErr == nil {
			*firstErr = err
		}
		mu.Unlock()
		cancel()
	}
}
