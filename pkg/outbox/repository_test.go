package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shipsplit-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	"github.com/angelmondragon/shipsplit-backend/pkg/enums"
)

func TestDeletePublishedBeforeKeepsLiveRows(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	row := func(createdAt time.Time, publishedAt *time.Time, attempts int) models.OutboxEvent {
		return models.OutboxEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
			CreatedAt:     createdAt,
			PublishedAt:   publishedAt,
			AttemptCount:  attempts,
		}
	}
	rows := []models.OutboxEvent{
		row(old, &old, 0),       // published long ago
		row(old, nil, 9),        // dead lettered
		row(old, nil, 1),        // still retrying
		row(recent, &recent, 0), // published recently
	}
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		for _, r := range rows {
			if err := repo.Insert(tx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	var deleted int64
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := repo.DeletePublishedBefore(ctx, tx, cutoff, 5)
		deleted = n
		return err
	}))
	require.Equal(t, int64(2), deleted)

	var remaining int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Count(&remaining).Error)
	require.Equal(t, int64(2), remaining)
}

func TestMarkTerminalStopsRetriesAndDeadLetters(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	dlq := NewDLQRepository(client.DB())
	ctx := context.Background()

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPayoutPaid,
		AggregateType: enums.AggregatePayout,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"data":null}`),
		AttemptCount:  2,
	}
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := repo.Insert(tx, event); err != nil {
			return err
		}
		msg := "payload missing"
		if err := dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   enums.OutboxDLQReasonNonRetryable,
			ErrorMessage:  &msg,
			AttemptCount:  event.AttemptCount,
			FailedAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, event.ID, errors.New("payload missing"), 10)
	}))

	var pending []models.OutboxEvent
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		pending, err = repo.FetchUnpublishedForPublish(tx, 10, 10)
		return err
	}))
	require.Empty(t, pending)

	entry, err := dlq.FindByEventID(ctx, event.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)

	missing, err := dlq.FindByEventID(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)
}
