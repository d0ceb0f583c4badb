package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationStatus is the latest dispatch outcome of one follow relationship.
type NotificationStatus struct {
	ID         string         `gorm:"primaryKey;type:uuid"`
	DocumentID string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_follow_pair"`
	FollowerID string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_follow_pair"`
	Status     string         `gorm:"type:varchar(16);not null;index"`
	Provider   string         `gorm:"type:varchar(32)"`
	MessageID  string         `gorm:"type:varchar(256)"`
	Detail     string         `gorm:"type:text"`
	Attempts   int            `gorm:"not null;default:1"`
	Metadata   datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt  time.Time
}

type StatusStore struct {
	db        *gorm.DB
	tableName string
}

func NewStatusStore(db *gorm.DB, tableName string) (*StatusStore, error) {
	if tableName == "" {
		tableName = "follow_notification_statuses"
	}

	if err := db.Table(tableName).AutoMigrate(&NotificationStatus{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", tableName, err)
	}

	return &StatusStore{
		db:        db,
		tableName: tableName,
	}, nil
}

// UpdateStatus upserts the status row for (document, follower), bumping the
// attempt counter on conflict.
func (s *StatusStore) UpdateStatus(ctx context.Context, ns NotificationStatus) error {
	if ns.ID == "" {
		ns.ID = uuid.NewString()
	}
	ns.UpdatedAt = time.Now()
	if ns.Attempts == 0 {
		ns.Attempts = 1
	}
	return s.db.WithContext(ctx).Table(s.tableName).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "document_id"}, {Name: "follower_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":     ns.Status,
				"provider":   ns.Provider,
				"message_id": ns.MessageID,
				"detail":     ns.Detail,
				"metadata":   ns.Metadata,
				"updated_at": ns.UpdatedAt,
				"attempts":   gorm.Expr(s.tableName + ".attempts + 1"),
			}),
		}).Create(&ns).Error
}
