// Package mailtracker implements email engagement tracking.
//
// Before a message is sent, the Tracker stamps it with an opaque token,
// rewrites every trackable link to a redirect URL, injects an open beacon
// and persists a SentMessage record. Afterwards it resolves clicks and
// opens against that record, and reconciles delivery, bounce and complaint
// notifications arriving from SES through SNS.
//
// The service layer depends on the Repository interface defined in
// repository.go. It never imports net/http or database/sql directly; the
// HTTP surface lives in internal/tracking and the stores live under
// internal/repository.
package mailtracker
