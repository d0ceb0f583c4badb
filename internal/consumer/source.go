package consumer

import (
	"context"
	"errors"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

// errSubscriptionEnded is reported when a source returns without an error
// while the listener is still running.
var errSubscriptionEnded = errors.New("change subscription ended")

// EmitFunc hands a batch to the listener. It blocks while the batch buffer is
// full and fails only when ctx is done.
type EmitFunc func(ctx context.Context, batch models.ChangeBatch) error

// ChangeSource is a change feed for the users collection. Subscribe blocks
// until ctx is cancelled (returning nil) or the subscription breaks.
type ChangeSource interface {
	Name() string
	Subscribe(ctx context.Context, emit EmitFunc) error
}
