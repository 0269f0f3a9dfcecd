package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"chatrank/domain"
)

// Partition keys for the three tables. Events and connections each live in a
// single partition; rankings are partitioned by ranking key.
const (
	eventPartition      = "comment"
	connectionPartition = "connection"
)

// Storage provides access to the event, ranking and connection tables.
type Storage struct {
	eventTable      *aztables.Client
	rankingTable    *aztables.Client
	connectionTable *aztables.Client
	scanPageSize    int32
}

// New creates a Storage instance from the given connection string.
func New(connStr, eventsTable, rankingsTable, connectionsTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		eventTable:      svc.NewClient(eventsTable),
		rankingTable:    svc.NewClient(rankingsTable),
		connectionTable: svc.NewClient(connectionsTable),
		scanPageSize:    1000,
	}, nil
}

type eventEntity struct {
	aztables.Entity
	ChatterID     string `json:"ChatterId"`
	BroadcasterID string `json:"BroadcasterId"`
	Text          string `json:"Text"`
	ReceivedAt    string `json:"ReceivedAt"`
}

// Event row keys are zero-padded millisecond timestamps so a lexicographic
// RowKey range filter is a time-range scan.
func eventRowKey(receivedAt int64, messageID string) string {
	return fmt.Sprintf("%016d_%s", receivedAt, messageID)
}

func newEventEntity(ev domain.ChatEvent) eventEntity {
	return eventEntity{
		Entity: aztables.Entity{
			PartitionKey: eventPartition,
			RowKey:       eventRowKey(ev.ReceivedAt, ev.MessageID),
		},
		ChatterID:     ev.ChatterID,
		BroadcasterID: ev.BroadcasterID,
		Text:          ev.Text,
		ReceivedAt:    strconv.FormatInt(ev.ReceivedAt, 10),
	}
}

func (e eventEntity) chatEvent() (domain.ChatEvent, error) {
	receivedAt, err := strconv.ParseInt(e.ReceivedAt, 10, 64)
	if err != nil {
		return domain.ChatEvent{}, fmt.Errorf("event %s: bad ReceivedAt %q: %w", e.RowKey, e.ReceivedAt, err)
	}
	messageID := e.RowKey
	if len(messageID) > 17 {
		messageID = messageID[17:]
	}
	return domain.ChatEvent{
		MessageID:     messageID,
		ChatterID:     e.ChatterID,
		BroadcasterID: e.BroadcasterID,
		Text:          e.Text,
		ReceivedAt:    receivedAt,
	}, nil
}

// AddEvent appends one chat event. Rewrites of the same message at the same
// reception time converge on a single row.
func (s *Storage) AddEvent(ctx context.Context, ev domain.ChatEvent) error {
	ent := newEventEntity(ev)
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.eventTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	return err
}

// ScanEvents returns one page of events whose reception time falls in the
// half-open window [start, end), plus an opaque continuation token that is
// empty once the scan is exhausted.
func (s *Storage) ScanEvents(ctx context.Context, start, end int64, pageToken string) ([]domain.ChatEvent, string, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and RowKey ge '%016d' and RowKey lt '%016d'",
		eventPartition, start, end)
	listOpts := &aztables.ListEntitiesOptions{
		Filter: &filter,
		Top:    &s.scanPageSize,
	}
	if pageToken != "" {
		npk, nrk, err := decodePageToken(pageToken)
		if err != nil {
			return nil, "", err
		}
		listOpts.NextPartitionKey = &npk
		listOpts.NextRowKey = &nrk
	}

	pager := s.eventTable.NewListEntitiesPager(listOpts)
	if !pager.More() {
		return nil, "", nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, "", err
	}

	events := make([]domain.ChatEvent, 0, len(resp.Entities))
	for _, raw := range resp.Entities {
		var ent eventEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return nil, "", err
		}
		ev, err := ent.chatEvent()
		if err != nil {
			return nil, "", err
		}
		events = append(events, ev)
	}

	next := ""
	if resp.NextPartitionKey != nil && resp.NextRowKey != nil && *resp.NextPartitionKey != "" {
		next = encodePageToken(*resp.NextPartitionKey, *resp.NextRowKey)
	}
	return events, next, nil
}
