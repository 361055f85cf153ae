package domain

import "time"

// EventType enumerates the engagement and delivery events published by the
// tracker.
type EventType string

const (
	EventEmailSent        EventType = "email_sent"
	EventViewEmail        EventType = "email_viewed"
	EventLinkClicked      EventType = "link_clicked"
	EventDelivered        EventType = "email_delivered"
	EventBounced          EventType = "email_bounced"
	EventPermanentBounced EventType = "email_permanent_bounced"
	EventComplaint        EventType = "email_complaint"
)

// Event is a notification about one tracked message. Fields that do not
// apply to the event type are left empty.
type Event struct {
	Type         EventType `json:"type"`
	MessageHash  string    `json:"message_hash"`
	MessageID    string    `json:"message_id,omitempty"`
	EmailAddress string    `json:"email_address,omitempty"`
	URL          string    `json:"url,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	BounceType   string    `json:"bounce_type,omitempty"`
	SubType      string    `json:"sub_type,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
