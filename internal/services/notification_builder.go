package services

import "github.com/CyberwizD/follow-notifier/internal/models"

// BuilderOptions holds the platform fields shared by every message.
type BuilderOptions struct {
	Sound            string
	AndroidChannelID string
	BadgeCount       int
}

// NotificationBuilder turns an intent and a device token into a gateway
// message carrying both the Android and the APNs variant.
type NotificationBuilder struct {
	opts BuilderOptions
}

func NewNotificationBuilder(opts BuilderOptions) *NotificationBuilder {
	if opts.Sound == "" {
		opts.Sound = "default"
	}
	return &NotificationBuilder{opts: opts}
}

func (b *NotificationBuilder) Build(intent models.NotificationIntent, token string) models.NotificationMessage {
	var data map[string]string
	if len(intent.Data) > 0 {
		data = make(map[string]string, len(intent.Data))
		for k, v := range intent.Data {
			data[k] = v
		}
	}
	return models.NotificationMessage{
		Token: token,
		Title: intent.Title,
		Body:  intent.Body,
		Data:  data,
		Android: &models.AndroidOptions{
			Sound:             b.opts.Sound,
			ChannelID:         b.opts.AndroidChannelID,
			NotificationCount: b.opts.BadgeCount,
		},
		Apple: &models.AppleOptions{
			AlertTitle: intent.Title,
			AlertBody:  intent.Body,
			Sound:      b.opts.Sound,
		},
	}
}
