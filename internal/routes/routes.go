package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CyberwizD/follow-notifier/internal/models"
	"github.com/CyberwizD/follow-notifier/pkg/metrics"
)

// MessageBuilder turns an intent into a gateway message.
type MessageBuilder interface {
	Build(intent models.NotificationIntent, token string) models.NotificationMessage
}

// MessageSender delivers one message through the notification gateway.
type MessageSender interface {
	Send(ctx context.Context, msg models.NotificationMessage) models.DispatchResult
}

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Builder MessageBuilder
	Sender  MessageSender
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Started time.Time
}

// NewRouter wires the manual notification endpoint plus health and metrics
// endpoints so the service can be monitored.
func NewRouter(deps Deps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "follow notifier healthy",
			"meta": gin.H{
				"uptime_seconds": int(time.Since(deps.Started).Seconds()),
				"timestamp":      time.Now().UTC(),
			},
		})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.POST("/send-notification", sendNotification(deps.Builder, deps.Sender, deps.Logger))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})
	return r
}
