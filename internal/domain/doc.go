// Package domain defines the core types of the mail tracker.
//
// Types in this package are plain values: sent-message records, tracked
// links, the outgoing message handed to the send hooks, and the engagement
// events published to listeners. They are the shared language between the
// HTTP handlers, the tracker service, and the storage backends.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Small pure helpers on the types are allowed
package domain
