package models

import "time"

// WebhookEvent is the durable record of a processed processor event.
type WebhookEvent struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	EventType   string    `gorm:"column:event_type;not null"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null"`
}

// OrderCounter backs the table-based order number sequence.
type OrderCounter struct {
	Name  string `gorm:"column:name;primaryKey"`
	Value int64  `gorm:"column:value;not null"`
}
