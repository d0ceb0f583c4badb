package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

type userRow struct {
	ID          string         `gorm:"primaryKey;type:varchar(128)"`
	Followers   pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	DeviceToken string         `gorm:"type:text"`
	FirstName   string         `gorm:"type:varchar(128)"`
	LastName    string         `gorm:"type:varchar(128)"`
	UpdatedAt   time.Time
}

// PostgresUserStore reads user records from a Postgres table.
type PostgresUserStore struct {
	db        *gorm.DB
	tableName string
}

func NewPostgresUserStore(db *gorm.DB, tableName string) *PostgresUserStore {
	if tableName == "" {
		tableName = "users"
	}
	return &PostgresUserStore{db: db, tableName: tableName}
}

func (s *PostgresUserStore) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	var row userRow
	err := s.db.WithContext(ctx).Table(s.tableName).Where("id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return &models.UserRecord{
		ID:          row.ID,
		Followers:   []string(row.Followers),
		DeviceToken: row.DeviceToken,
		FirstName:   row.FirstName,
		LastName:    row.LastName,
	}, nil
}
