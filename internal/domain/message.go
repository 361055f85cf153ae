package domain

import "strings"

// Address is a mailbox with an optional display name.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// String formats the address as "Name <email>", or the bare email when
// there is no display name.
func (a Address) String() string {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return a.Email
	}
	return name + " <" + a.Email + ">"
}

// FormatAddresses joins a list of addresses with ", ".
func FormatAddresses(list []Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		if a.Email == "" {
			continue
		}
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// BodyKind identifies the content type of a message body.
type BodyKind string

const (
	BodyText BodyKind = "text/plain"
	BodyHTML BodyKind = "text/html"
)

// Body is the content of an outgoing message.
type Body struct {
	Kind    BodyKind `json:"kind"`
	Content string   `json:"content"`
}

// IsHTML reports whether the body is HTML.
func (b Body) IsHTML() bool { return b.Kind == BodyHTML }

// OutgoingMessage is the transport-neutral view of a message about to be
// sent. Headers may be nil when the transport cannot expose them.
type OutgoingMessage struct {
	From    Address   `json:"from"`
	To      []Address `json:"to"`
	Cc      []Address `json:"cc,omitempty"`
	Bcc     []Address `json:"bcc,omitempty"`
	Subject string    `json:"subject"`
	Headers Headers   `json:"headers,omitempty"`
	Body    Body      `json:"body"`
}
