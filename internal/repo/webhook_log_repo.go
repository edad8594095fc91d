// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the inbound-event dedup log.
//
// Each event id owns exactly one webhook_log row. A delivery may only act on
// an event after ClaimWebhookEvent reports true for it, which happens once per
// event id unless the previous attempt failed or went stale mid-flight.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-entitlements/internal/domain"
)

// ClaimWebhookEvent records entry in the processing state and reports whether
// the caller now owns the event. Ownership is granted when the event id is
// new, when its previous attempt failed, or when a processing row has not
// been touched since staleBefore.
func ClaimWebhookEvent(ctx context.Context, db *gorm.DB, entry *domain.WebhookLogEntry, staleBefore time.Time) (bool, error) {
	now := time.Now().UTC()
	entry.Status = domain.WebhookProcessing
	entry.Error = ""
	entry.ProcessedAt = nil
	entry.CreatedAt = now
	entry.UpdatedAt = now

	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = db.WithContext(ctx).
		Model(&domain.WebhookLogEntry{}).
		Where("event_id = ? AND (status = ? OR (status = ? AND updated_at < ?))",
			entry.EventID, domain.WebhookFailed, domain.WebhookProcessing, staleBefore).
		Updates(map[string]any{
			"status":     domain.WebhookProcessing,
			"event_type": entry.EventType,
			"error":      "",
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FinishWebhookEvent stores the final status of an owned event.
func FinishWebhookEvent(ctx context.Context, db *gorm.DB, eventID, status, errMsg string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.WebhookLogEntry{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"status":       status,
			"error":        errMsg,
			"processed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWebhookEvent fetches the log row for eventID, or ErrNotFound.
func GetWebhookEvent(ctx context.Context, db *gorm.DB, eventID string) (*domain.WebhookLogEntry, error) {
	var e domain.WebhookLogEntry
	if err := db.WithContext(ctx).Where("event_id = ?", eventID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}
