package domain

import (
	"strings"
	"time"
)

// SentMessage is the persistent record of one tracked outgoing message.
type SentMessage struct {
	ID          string    `json:"id"`
	Hash        string    `json:"hash"`
	MessageID   *string   `json:"message_id,omitempty"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Subject     string    `json:"subject"`
	Content     string    `json:"content,omitempty"`
	ContentPath string    `json:"content_path,omitempty"`
	Headers     Headers   `json:"headers"`
	Opens       int64     `json:"opens"`
	Clicks      int64     `json:"clicks"`
	Meta        Meta      `json:"meta"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Header returns the first captured header matching name, case-insensitively.
// Missing headers yield the empty string.
func (m *SentMessage) Header(name string) string {
	v, _ := m.Headers.Get(name)
	return v
}

// TransportID returns the transport message id, or "" when none was recorded.
func (m *SentMessage) TransportID() string {
	if m.MessageID == nil {
		return ""
	}
	return *m.MessageID
}

// TrackedLink is one distinct URL found in a message, with its click count.
type TrackedLink struct {
	ID            string    `json:"id"`
	SentMessageID string    `json:"sent_message_id"`
	Hash          string    `json:"hash"`
	URL           string    `json:"url"`
	Clicks        int64     `json:"clicks"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Meta is the free-form delivery metadata attached to a sent message.
type Meta map[string]any

// Merge returns a copy of m with every key from patch written over it.
func (m Meta) Merge(patch Meta) Meta {
	out := make(Meta, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Success reports the recorded delivery outcome. ok is false until a
// delivery, bounce or complaint notification has been reconciled.
func (m Meta) Success() (success bool, ok bool) {
	v, found := m["success"]
	if !found {
		return false, false
	}
	b, isBool := v.(bool)
	return b, isBool
}

// SMTPResponse returns the recorded smtpResponse, if any.
func (m Meta) SMTPResponse() string {
	s, _ := m["smtpResponse"].(string)
	return s
}

// Header is a single name/value pair captured from an outgoing message.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered header list. Names compare case-insensitively.
type Headers []Header

// Get returns the first value for name.
func (h Headers) Get(name string) (string, bool) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// With returns a copy of h where name is set to value. An existing header
// with the same name is replaced in place; otherwise the header is appended.
func (h Headers) With(name, value string) Headers {
	out := make(Headers, 0, len(h)+1)
	replaced := false
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			if replaced {
				continue
			}
			out = append(out, Header{Name: hdr.Name, Value: value})
			replaced = true
			continue
		}
		out = append(out, hdr)
	}
	if !replaced {
		out = append(out, Header{Name: name, Value: value})
	}
	return out
}

// Without returns a copy of h with every header called name removed.
func (h Headers) Without(name string) Headers {
	out := make(Headers, 0, len(h))
	for _, hdr := range h {
		if !strings.EqualFold(hdr.Name, name) {
			out = append(out, hdr)
		}
	}
	return out
}
