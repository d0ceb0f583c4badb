package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

// UserStore reads the current state of a user record. A missing record is
// reported as (nil, nil).
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.UserRecord, error)
}

// DeviceTokenResolver looks up the push token registered for a user at send
// time rather than trusting the token carried in a change snapshot.
type DeviceTokenResolver struct {
	store  UserStore
	logger *slog.Logger
}

func NewDeviceTokenResolver(store UserStore, logger *slog.Logger) *DeviceTokenResolver {
	return &DeviceTokenResolver{
		store:  store,
		logger: logger,
	}
}

// Resolve returns the user's device token, or false when there is none.
// Lookup failures are logged and treated as "no token".
func (r *DeviceTokenResolver) Resolve(ctx context.Context, userID string) (string, bool) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		r.logger.Warn("device token lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		return "", false
	}
	if user == nil {
		r.logger.Info("user record not found", slog.String("user_id", userID))
		return "", false
	}
	if !user.HasToken() {
		r.logger.Info("no device token registered", slog.String("user_id", userID))
		return "", false
	}
	return strings.TrimSpace(user.DeviceToken), true
}
