package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

// MessagingClient is the part of the Firebase messaging client the gateway uses.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMProvider sends notifications via Firebase Cloud Messaging.
type FCMProvider struct {
	client MessagingClient
	logger *slog.Logger
}

func NewFCMProvider(client MessagingClient, logger *slog.Logger) *FCMProvider {
	return &FCMProvider{
		client: client,
		logger: logger,
	}
}

func (p *FCMProvider) Name() string {
	return "fcm"
}

func (p *FCMProvider) Send(ctx context.Context, msg *models.NotificationMessage) (string, error) {
	if msg == nil || msg.Token == "" {
		return "", errors.New("fcm: no token supplied")
	}

	id, err := p.client.Send(ctx, toFCMMessage(msg))
	if err != nil {
		if isTokenFatal(err) {
			return "", fmt.Errorf("fcm: %w: %v", ErrInvalidToken, err)
		}
		return "", fmt.Errorf("fcm: %w", err)
	}
	p.logger.Debug("fcm accepted message", slog.String("message_id", id))
	return id, nil
}

func toFCMMessage(msg *models.NotificationMessage) *messaging.Message {
	out := &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
	}
	if len(msg.Data) > 0 {
		data := make(map[string]string, len(msg.Data))
		for k, v := range msg.Data {
			data[k] = v
		}
		out.Data = data
	}

	if a := msg.Android; a != nil {
		n := &messaging.AndroidNotification{
			Title:     msg.Title,
			Body:      msg.Body,
			Sound:     a.Sound,
			ChannelID: a.ChannelID,
		}
		if a.NotificationCount > 0 {
			count := a.NotificationCount
			n.NotificationCount = &count
		}
		out.Android = &messaging.AndroidConfig{
			Priority:     "high",
			Notification: n,
		}
	}

	if ap := msg.Apple; ap != nil {
		out.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: ap.AlertTitle,
						Body:  ap.AlertBody,
					},
					Sound: ap.Sound,
				},
			},
		}
	}
	return out
}

func isTokenFatal(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err)
}
