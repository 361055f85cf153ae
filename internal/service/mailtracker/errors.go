package mailtracker

import "errors"

// Sentinel errors for the tracker service layer.
var (
	// ErrNotFound is returned by repositories when a message or link does not exist.
	ErrNotFound = errors.New("tracked record not found")

	// ErrDuplicateHash is returned by CreateMessage when the token is already in use.
	ErrDuplicateHash = errors.New("sent message hash already exists")

	// ErrBadURLLink means a redirect request could not be resolved to a
	// destination: unknown token, unknown link, or an invalid direct URL.
	ErrBadURLLink = errors.New("bad url link")

	// ErrUnsupportedEnvelopeType is returned for envelopes that are not JSON
	// or whose Type is not a known SNS envelope type.
	ErrUnsupportedEnvelopeType = errors.New("unsupported notification envelope type")

	// ErrUnknownTopic is returned when the envelope's topic is not allowed.
	ErrUnknownTopic = errors.New("invalid topic ARN")

	// ErrInvalidBaseURL means Config.BaseURL is not an absolute http(s) URL.
	ErrInvalidBaseURL = errors.New("tracker base URL must be an absolute http(s) URL")

	// ErrMalformedNotification marks a recognised notification with missing
	// or invalid fields. It is logged, never returned to the webhook caller.
	ErrMalformedNotification = errors.New("malformed notification")
)
