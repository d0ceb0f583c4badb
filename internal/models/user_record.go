package models

import "strings"

// UserRecord is a snapshot of one document in the users collection.
type UserRecord struct {
	ID          string   `json:"id" firestore:"-"`
	Followers   []string `json:"followers" firestore:"followers"`
	DeviceToken string   `json:"device_token,omitempty" firestore:"fcmToken"`
	FirstName   string   `json:"first_name,omitempty" firestore:"firstName"`
	LastName    string   `json:"last_name,omitempty" firestore:"lastName"`
}

// DisplayName joins the name parts, falling back to the record ID.
func (u *UserRecord) DisplayName() string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.Join([]string{
		strings.TrimSpace(u.FirstName),
		strings.TrimSpace(u.LastName),
	}, " "))
	if name == "" {
		return u.ID
	}
	return name
}

// HasToken reports whether a device token is registered for the user.
func (u *UserRecord) HasToken() bool {
	return u != nil && strings.TrimSpace(u.DeviceToken) != ""
}
