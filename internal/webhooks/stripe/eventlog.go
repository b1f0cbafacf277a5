package stripewebhook

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shipsplit-backend/pkg/errors"
)

// EventLog is the durable record of processed webhook events.
type EventLog struct {
	db  *gorm.DB
	now func() time.Time
}

func NewEventLog(db *gorm.DB) *EventLog {
	return &EventLog{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (l *EventLog) Seen(ctx context.Context, eventID string) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check webhook event log")
	}
	return count > 0, nil
}

func (l *EventLog) Record(ctx context.Context, eventID, eventType string) error {
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.WebhookEvent{EventID: eventID, EventType: eventType, ProcessedAt: l.now()}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record webhook event")
	}
	return nil
}
