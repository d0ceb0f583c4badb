package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

type sendNotificationRequest struct {
	FCMToken string `json:"fcmToken" binding:"required"`
	Title    string `json:"title" binding:"required"`
	Body     string `json:"body" binding:"required"`
}

func sendNotification(builder MessageBuilder, sender MessageSender, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendNotificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fcmToken, title and body are required"})
			return
		}

		msg := builder.Build(models.NotificationIntent{Title: req.Title, Body: req.Body}, req.FCMToken)
		result := sender.Send(c.Request.Context(), msg)
		if !result.Success {
			logger.Error("manual notification failed",
				slog.String("request_id", c.GetString(ContextRequestID)),
				slog.String("error", result.ErrorDetail),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": result.ErrorDetail})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "messageId": result.MessageID})
	}
}
