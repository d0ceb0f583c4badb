package models

// NotificationIntent is what should be said to whom, before a device token is known.
type NotificationIntent struct {
	RecipientUserID string
	Title           string
	Body            string
	Data            map[string]string
}

// AndroidOptions carries the Android specific notification fields.
type AndroidOptions struct {
	Sound             string
	ChannelID         string
	NotificationCount int
}

// AppleOptions carries the APNs alert and sound.
type AppleOptions struct {
	AlertTitle string
	AlertBody  string
	Sound      string
}

// NotificationMessage is handed to the gateway unchanged once built.
type NotificationMessage struct {
	Token   string
	Title   string
	Body    string
	Data    map[string]string
	Android *AndroidOptions
	Apple   *AppleOptions
}

// DispatchResult captures the outcome of a single gateway send.
type DispatchResult struct {
	Success      bool   `json:"success"`
	MessageID    string `json:"messageId,omitempty"`
	ErrorDetail  string `json:"error,omitempty"`
	TokenInvalid bool   `json:"-"`
}
