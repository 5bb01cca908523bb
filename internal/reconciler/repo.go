package reconciler

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

const maxLastErrorLen = 1024

// EventRepository persists verified processor deliveries.
type EventRepository interface {
	Record(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error)
	InsertUnparseable(ctx context.Context, event *models.WebhookEvent) error
	Settle(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, lastError *string) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	ListReplayable(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error)
}

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Record inserts the delivery once per provider event id. When the id was
// seen before it returns the stored row and false.
func (r *eventRepository) Record(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	if event.ProviderEventID == nil || *event.ProviderEventID == "" {
		return nil, false, errors.New("provider event id required")
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_event_id"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return event, true, nil
	}

	var existing models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("provider_event_id = ?", *event.ProviderEventID).
		Take(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *eventRepository) InsertUnparseable(ctx context.Context, event *models.WebhookEvent) error {
	event.ProviderEventID = nil
	event.Status = enums.WebhookEventUnparseable
	return r.db.WithContext(ctx).Create(event).Error
}

// Settle records the outcome of one processing attempt.
func (r *eventRepository) Settle(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, lastError *string) error {
	updates := map[string]any{
		"status":     status,
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": nil,
	}
	if lastError != nil {
		updates["last_error"] = truncateError(*lastError)
	}
	if status.IsSettled() {
		updates["processed_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// truncateError caps msg at maxLastErrorLen bytes without splitting a
// UTF-8 sequence.
func truncateError(msg string) string {
	if len(msg) <= maxLastErrorLen {
		return msg
	}
	cut := maxLastErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func (r *eventRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListReplayable returns FAILED deliveries that still have attempts left,
// oldest first.
func (r *eventRepository) ListReplayable(ctx context.Context, maxAttempts, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", enums.WebhookEventFailed, maxAttempts).
		Order("received_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
