package mailtracker

import (
	"context"
	"time"

	"github.com/ignite/mail-tracker/internal/domain"
)

// Repository defines the data access contract for sent messages and their
// tracked links. Messages are addressed by their token (SentMessage.Hash);
// links by the owning token plus the link id (TrackedLink.Hash).
//
// Every counter update must be atomic with respect to concurrent callers.
type Repository interface {
	// CreateMessage persists a new record. ID, CreatedAt and UpdatedAt are
	// filled in when empty. Returns ErrDuplicateHash if the token exists.
	CreateMessage(ctx context.Context, msg *domain.SentMessage) error

	// MessageByHash looks a record up by token. Returns ErrNotFound.
	MessageByHash(ctx context.Context, hash string) (*domain.SentMessage, error)

	// MessageByTransportID looks a record up by transport message id.
	// Returns ErrNotFound.
	MessageByTransportID(ctx context.Context, messageID string) (*domain.SentMessage, error)

	// SetTransportID records the transport message id if none is set yet.
	// Reports whether this call wrote it. Returns ErrNotFound.
	SetTransportID(ctx context.Context, hash, messageID string) (bool, error)

	// IncrementOpens adds one open. Returns ErrNotFound.
	IncrementOpens(ctx context.Context, hash string) error

	// FindOrCreateLink returns the link (hash, link.Hash), creating it with
	// link.URL when absent. Concurrent callers converge on one row.
	// Returns ErrNotFound when the message does not exist.
	FindOrCreateLink(ctx context.Context, hash string, link *domain.TrackedLink) (*domain.TrackedLink, error)

	// LinkByHash returns one link of a message. Returns ErrNotFound.
	LinkByHash(ctx context.Context, hash, linkHash string) (*domain.TrackedLink, error)

	// LinksFor returns every link of a message, oldest first.
	LinksFor(ctx context.Context, hash string) ([]domain.TrackedLink, error)

	// RecordClick adds one click to the link and one to its message.
	// Returns ErrNotFound.
	RecordClick(ctx context.Context, hash, linkHash string) error

	// MergeMeta writes the keys of patch over the stored meta without
	// losing concurrent merges. Returns ErrNotFound.
	MergeMeta(ctx context.Context, hash string, patch domain.Meta) error

	// DeleteCreatedBefore removes every message created before cutoff
	// together with its links, and returns the number of messages removed.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteMessage removes one message and its links. Returns ErrNotFound.
	DeleteMessage(ctx context.Context, hash string) error
}
