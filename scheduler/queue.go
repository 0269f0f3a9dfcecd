package scheduler

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
)

const (
	defaultPollInterval = 5 * time.Second
	dequeueBatch        = int32(16)
	visibilitySeconds   = int32(60)
)

// TriggerQueue is the subset of the azqueue client the poller uses.
type TriggerQueue interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// triggerMessage is the queue payload requesting a ranking run. A missing
// end time means "the window ending now".
type triggerMessage struct {
	EndUnixtime *int64 `json:"end_unixtime,omitempty"`
}

// QueuePoller runs the pipeline for every trigger message on a storage
// queue. Malformed messages are deleted and skipped; a failed run leaves the
// message invisible until its visibility timeout so it is retried.
type QueuePoller struct {
	queue    TriggerQueue
	pipeline *Pipeline
	interval time.Duration
}

// NewQueuePoller creates a poller over the given queue.
func NewQueuePoller(queue TriggerQueue, pipeline *Pipeline) *QueuePoller {
	return &QueuePoller{queue: queue, pipeline: pipeline, interval: defaultPollInterval}
}

// Run polls until the context ends.
func (q *QueuePoller) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drain(ctx)
		}
	}
}

func (q *QueuePoller) drain(ctx context.Context) {
	batch := dequeueBatch
	visibility := visibilitySeconds
	resp, err := q.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &batch,
		VisibilityTimeout: &visibility,
	})
	if err != nil {
		q.pipeline.Logger.WithError(err).Error("trigger queue dequeue failed")
		return
	}
	for _, msg := range resp.Messages {
		if msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}
		if err := q.handle(ctx, deref(msg.MessageText)); err != nil {
			q.pipeline.Logger.WithError(err).Error("triggered ranking run failed")
			continue // leave the message for redelivery
		}
		if _, err := q.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
			q.pipeline.Logger.WithError(err).Error("trigger message delete failed")
		}
	}
}

func (q *QueuePoller) handle(ctx context.Context, text string) error {
	var trigger triggerMessage
	if text != "" {
		if err := sonic.Unmarshal([]byte(text), &trigger); err != nil {
			q.pipeline.Logger.WithField("message", text).Warn("dropping malformed trigger message")
			return nil // deleted below, not retried
		}
	}
	windowEnd := q.pipeline.Now()
	if trigger.EndUnixtime != nil {
		windowEnd = *trigger.EndUnixtime
	}
	return q.pipeline.RunAt(ctx, windowEnd)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
