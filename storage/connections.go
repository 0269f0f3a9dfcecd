package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"chatrank/domain"
)

type connectionEntity struct {
	aztables.Entity
}

// AddSubscriber registers a push connection. Re-adding an existing
// connection is a no-op rather than an error.
func (s *Storage) AddSubscriber(ctx context.Context, id string) error {
	ent := connectionEntity{Entity: aztables.Entity{
		PartitionKey: connectionPartition,
		RowKey:       id,
	}}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.connectionTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	return err
}

// RemoveSubscriber drops a push connection from the registry. Removing a
// connection that is already gone is a no-op, so concurrent prunes of the
// same subscriber never fail each other.
func (s *Storage) RemoveSubscriber(ctx context.Context, id string) error {
	_, err := s.connectionTable.DeleteEntity(ctx, connectionPartition, id, nil)
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// ListSubscribers returns every registered push connection.
func (s *Storage) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	filter := "PartitionKey eq '" + connectionPartition + "'"
	pager := s.connectionTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	subs := []domain.Subscriber{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent connectionEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			subs = append(subs, domain.Subscriber{ID: ent.RowKey})
		}
	}
	return subs, nil
}
