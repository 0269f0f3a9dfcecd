package ranking

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName     = "chatrank/ranking"
	runSpanName    = "ranking.compute"
	runEventName   = "ranking.compute"
	runEventDomain = "chatrank"
)

// runMetrics collects per-run stage timings, attaches them to an otel span
// and emits one structured observability event when the run finishes.
type runMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	windowStart int64
	windowEnd   int64

	scanDuration    time.Duration
	resolveDuration time.Duration
	persistDuration time.Duration
	entries         int
}

func newRunMetrics(ctx context.Context, logger *log.Logger, windowStart, windowEnd int64) (*runMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, runSpanName)
	span.SetAttributes(
		attribute.Int64("chatrank.window_start", windowStart),
		attribute.Int64("chatrank.window_end", windowEnd),
	)
	return &runMetrics{
		logger:      logger,
		span:        span,
		start:       time.Now(),
		windowStart: windowStart,
		windowEnd:   windowEnd,
	}, ctx
}

func (m *runMetrics) ObserveScan(d time.Duration) {
	if d > 0 {
		m.scanDuration = d
	}
}

func (m *runMetrics) ObserveResolve(d time.Duration) {
	if d > 0 {
		m.resolveDuration = d
	}
}

func (m *runMetrics) ObservePersist(d time.Duration) {
	if d > 0 {
		m.persistDuration = d
	}
}

func (m *runMetrics) SetEntries(n int) {
	if n < 0 {
		n = 0
	}
	m.entries = n
}

// Finish closes the span and logs the run event. errorStage names the stage
// that failed and is empty on success.
func (m *runMetrics) Finish(errorStage string, err error) {
	if m == nil {
		return
	}
	total := time.Since(m.start)

	m.span.SetAttributes(
		attribute.Int("chatrank.entries", m.entries),
		attribute.Float64("chatrank.scan_ms", durationToMillis(m.scanDuration)),
		attribute.Float64("chatrank.resolve_ms", durationToMillis(m.resolveDuration)),
		attribute.Float64("chatrank.persist_ms", durationToMillis(m.persistDuration)),
	)
	if err != nil {
		m.span.SetAttributes(attribute.String("chatrank.error_stage", errorStage))
		m.span.SetStatus(codes.Error, err.Error())
		m.span.RecordError(err)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":   runEventName,
		"event.domain": runEventDomain,
		"window_start": m.windowStart,
		"window_end":   m.windowEnd,
		"entries":      m.entries,
		"total_ms":     durationToMillis(total),
		"scan_ms":      durationToMillis(m.scanDuration),
		"resolve_ms":   durationToMillis(m.resolveDuration),
		"persist_ms":   durationToMillis(m.persistDuration),
	}
	if err != nil {
		fields["error_stage"] = errorStage
		m.logger.WithFields(fields).WithError(err).Error("observability.event")
		return
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
