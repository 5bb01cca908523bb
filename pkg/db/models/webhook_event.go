package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// WebhookEvent stores every verified processor delivery for dedup and replay.
type WebhookEvent struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	Provider        string                   `gorm:"column:provider;not null"`
	ProviderEventID *string                  `gorm:"column:provider_event_id;uniqueIndex:ux_webhook_events_provider_event_id"`
	EventType       string                   `gorm:"column:event_type;not null;default:''"`
	Kind            enums.WebhookEventKind   `gorm:"column:kind;not null;default:'ignored'"`
	Status          enums.WebhookEventStatus `gorm:"column:status;type:webhook_event_status;not null"`
	Payload         []byte                   `gorm:"column:payload;not null"`
	LastError       *string                  `gorm:"column:last_error"`
	Attempts        int                      `gorm:"column:attempts;not null;default:0"`
	ReceivedAt      time.Time                `gorm:"column:received_at;autoCreateTime"`
	ProcessedAt     *time.Time               `gorm:"column:processed_at"`
}

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
