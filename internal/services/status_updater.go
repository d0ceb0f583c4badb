package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/CyberwizD/follow-notifier/internal/repository"
)

const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// StatusStore persists the latest dispatch status of a follow relationship.
type StatusStore interface {
	UpdateStatus(ctx context.Context, status repository.NotificationStatus) error
}

// StatusUpdater records dispatch outcomes; store errors are logged, never returned.
type StatusUpdater struct {
	store    StatusStore
	provider string
	logger   *slog.Logger
}

func NewStatusUpdater(store StatusStore, provider string, logger *slog.Logger) *StatusUpdater {
	return &StatusUpdater{
		store:    store,
		provider: provider,
		logger:   logger,
	}
}

func (s *StatusUpdater) MarkDelivered(ctx context.Context, task FollowTask, messageID string) {
	s.update(ctx, task, StatusDelivered, messageID, "")
}

func (s *StatusUpdater) MarkFailed(ctx context.Context, task FollowTask, detail string) {
	s.update(ctx, task, StatusFailed, "", detail)
}

func (s *StatusUpdater) update(ctx context.Context, task FollowTask, status, messageID, detail string) {
	err := s.store.UpdateStatus(ctx, repository.NotificationStatus{
		DocumentID: task.DocumentID,
		FollowerID: task.FollowerID,
		Status:     status,
		Provider:   s.provider,
		MessageID:  messageID,
		Detail:     detail,
		Metadata:   statusMetadata(task),
	})
	if err != nil {
		s.logger.Error("failed to update "+status+" status",
			slog.String("document_id", task.DocumentID),
			slog.String("follower_id", task.FollowerID),
			slog.Any("error", err),
		)
	}
}

func statusMetadata(task FollowTask) datatypes.JSON {
	meta := map[string]string{"subject_name": task.Subject.DisplayName()}
	if !task.ObservedAt.IsZero() {
		meta["observed_at"] = task.ObservedAt.UTC().Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
