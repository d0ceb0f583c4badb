package services

import (
	"context"
	"errors"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

// ErrInvalidToken is wrapped by gateways when the device token is unknown or
// no longer registered.
var ErrInvalidToken = errors.New("device token is not registered")

// Gateway represents a downstream push provider. Send delivers exactly one
// message and returns the provider's message ID.
type Gateway interface {
	Name() string
	Send(ctx context.Context, msg *models.NotificationMessage) (string, error)
}
