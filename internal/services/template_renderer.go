package services

import (
	"fmt"
	"regexp"

	"github.com/CyberwizD/follow-notifier/internal/models"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate performs naive moustache-style replacement for {{key}} placeholders.
func RenderTemplate(template string, variables map[string]interface{}) string {
	if template == "" || len(variables) == 0 {
		return template
	}

	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		submatch := placeholderRegex.FindStringSubmatch(match)
		if len(submatch) != 2 {
			return match
		}
		key := submatch[1]
		if value, ok := variables[key]; ok {
			return fmt.Sprint(value)
		}
		return match
	})
}

// IntentTemplate produces the "new follower" intent. Title and Body may use
// {{name}} (display name of the followed user) and {{user_id}}.
type IntentTemplate struct {
	Title string
	Body  string
}

// FollowIntent renders the intent sent to recipientID about subject.
func (t IntentTemplate) FollowIntent(recipientID string, subject *models.UserRecord) models.NotificationIntent {
	vars := map[string]interface{}{
		"name":    subject.DisplayName(),
		"user_id": "",
	}
	data := map[string]string{
		"type":         "new_follower",
		"recipient_id": recipientID,
	}
	if subject != nil {
		vars["user_id"] = subject.ID
		data["user_id"] = subject.ID
	}
	return models.NotificationIntent{
		RecipientUserID: recipientID,
		Title:           RenderTemplate(t.Title, vars),
		Body:            RenderTemplate(t.Body, vars),
		Data:            data,
	}
}
