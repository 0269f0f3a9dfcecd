// Package scheduler drives leaderboard computation: on a fixed interval and
// on demand through trigger messages from a storage queue.
package scheduler

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"chatrank/broadcast"
	"chatrank/domain"
	"chatrank/ranking"
)

// Ranker computes a leaderboard snapshot for a window end.
type Ranker interface {
	ComputeLeaderboard(ctx context.Context, windowEnd int64, windowLen time.Duration) (domain.Snapshot, error)
}

// Caster fans a snapshot out to subscribers.
type Caster interface {
	Broadcast(ctx context.Context, snap domain.Snapshot) (broadcast.Result, error)
}

// Pipeline is one compute-then-broadcast run.
type Pipeline struct {
	Ranker    Ranker
	Caster    Caster
	WindowLen time.Duration
	Logger    *log.Logger
	Now       func() int64
}

// NewPipeline wires a pipeline with defaults filled in.
func NewPipeline(ranker Ranker, caster Caster, windowLen time.Duration, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if windowLen <= 0 {
		windowLen = ranking.DefaultWindow
	}
	return &Pipeline{
		Ranker:    ranker,
		Caster:    caster,
		WindowLen: windowLen,
		Logger:    logger,
		Now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// RunAt computes the leaderboard for the window ending at windowEnd and
// broadcasts it. A snapshot persistence failure is logged but does not stop
// the broadcast: the computed snapshot is still usable.
func (p *Pipeline) RunAt(ctx context.Context, windowEnd int64) error {
	snap, err := p.Ranker.ComputeLeaderboard(ctx, windowEnd, p.WindowLen)
	if err != nil {
		var writeErr ranking.SnapshotWriteError
		if !errors.As(err, &writeErr) {
			return err
		}
		p.Logger.WithError(err).Error("snapshot persistence failed, broadcasting anyway")
	}

	res, err := p.Caster.Broadcast(ctx, snap)
	if err != nil {
		return err
	}
	p.Logger.WithFields(log.Fields{
		"window_end": windowEnd,
		"delivered":  res.Delivered,
		"pruned":     res.Pruned,
	}).Info("leaderboard broadcast complete")
	return nil
}

// Run executes one pipeline run with the window ending now.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.RunAt(ctx, p.Now())
}

// RunPeriodic invokes the pipeline every interval until the context ends.
// A failed run is logged and the schedule keeps going.
func RunPeriodic(ctx context.Context, interval time.Duration, p *Pipeline) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Run(ctx); err != nil {
				p.Logger.WithError(err).Error("scheduled ranking run failed")
			}
		}
	}
}
