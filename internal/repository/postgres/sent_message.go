// Package postgres implements mailtracker.Repository on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

const (
	messagesTable = "sent_emails"
	linksTable    = "sent_emails_url_clicked"

	deleteBatchSize = 10000
)

var messageColumns = []string{
	"id", "hash", "message_id", "sender", "recipient", "subject", "content",
	"content_path", "headers", "opens", "clicks", "meta", "created_at", "updated_at",
}

var linkColumns = []string{
	"l.id", "l.sent_email_id", "l.hash", "l.url", "l.clicks", "l.created_at", "l.updated_at",
}

// SentMessageRepo implements mailtracker.Repository against PostgreSQL.
type SentMessageRepo struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSentMessageRepo creates a Postgres-backed sent message repository.
func NewSentMessageRepo(db *sql.DB) *SentMessageRepo {
	return &SentMessageRepo{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *SentMessageRepo) CreateMessage(ctx context.Context, msg *domain.SentMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	headers, err := json.Marshal(nonNilHeaders(msg.Headers))
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	meta, err := json.Marshal(nonNilMeta(msg.Meta))
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}

	query, args, err := r.sb.
		Insert(messagesTable).
		Columns("id", "hash", "message_id", "sender", "recipient", "subject", "content",
			"content_path", "headers", "meta", "created_at", "updated_at").
		Values(msg.ID, msg.Hash, msg.MessageID, msg.Sender, msg.Recipient, msg.Subject, msg.Content,
			nullString(msg.ContentPath), string(headers), string(meta), msg.CreatedAt, msg.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return mailtracker.ErrDuplicateHash
		}
		return fmt.Errorf("insert sent message: %w", err)
	}
	return nil
}

func (r *SentMessageRepo) MessageByHash(ctx context.Context, hash string) (*domain.SentMessage, error) {
	return r.getMessage(ctx, r.sb.Select(messageColumns...).From(messagesTable).Where(sq.Eq{"hash": hash}))
}

func (r *SentMessageRepo) MessageByTransportID(ctx context.Context, messageID string) (*domain.SentMessage, error) {
	return r.getMessage(ctx, r.sb.Select(messageColumns...).
		From(messagesTable).
		Where(sq.Eq{"message_id": messageID}).
		OrderBy("created_at DESC").
		Limit(1))
}

func (r *SentMessageRepo) getMessage(ctx context.Context, q sq.SelectBuilder) (*domain.SentMessage, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var (
		msg                  domain.SentMessage
		messageID            sql.NullString
		content, contentPath sql.NullString
		headers, meta        []byte
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&msg.ID, &msg.Hash, &messageID, &msg.Sender, &msg.Recipient, &msg.Subject, &content,
		&contentPath, &headers, &msg.Opens, &msg.Clicks, &meta, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mailtracker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sent message: %w", err)
	}

	if messageID.Valid {
		msg.MessageID = &messageID.String
	}
	msg.Content = content.String
	msg.ContentPath = contentPath.String
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &msg.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	msg.Meta = domain.Meta{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &msg.Meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
	}
	return &msg, nil
}

func (r *SentMessageRepo) SetTransportID(ctx context.Context, hash, messageID string) (bool, error) {
	query, args, err := r.sb.
		Update(messagesTable).
		Set("message_id", messageID).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"hash": hash}).
		Where(sq.Eq{"message_id": nil}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("set transport id: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	exists, err := r.exists(ctx, hash)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, mailtracker.ErrNotFound
	}
	return false, nil
}

func (r *SentMessageRepo) exists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sent_emails WHERE hash = $1)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check sent message: %w", err)
	}
	return exists, nil
}

func (r *SentMessageRepo) IncrementOpens(ctx context.Context, hash string) error {
	query, args, err := r.sb.
		Update(messagesTable).
		Set("opens", sq.Expr("opens + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"hash": hash}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	return r.execOne(ctx, "increment opens", query, args...)
}

func (r *SentMessageRepo) MergeMeta(ctx context.Context, hash string, patch domain.Meta) error {
	b, err := json.Marshal(nonNilMeta(patch))
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	// jsonb || is evaluated against the row as locked by the UPDATE, so
	// concurrent merges of disjoint keys never lose each other.
	query, args, err := r.sb.
		Update(messagesTable).
		Set("meta", sq.Expr("COALESCE(meta, '{}'::jsonb) || ?::jsonb", string(b))).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"hash": hash}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	return r.execOne(ctx, "merge meta", query, args...)
}

func (r *SentMessageRepo) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return mailtracker.ErrNotFound
	}
	return nil
}

// DeleteCreatedBefore deletes in batches of deleteBatchSize so a large
// backlog never holds one long transaction. Links go with their message
// through ON DELETE CASCADE.
func (r *SentMessageRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM sent_emails
		WHERE id IN (
			SELECT id FROM sent_emails
			WHERE created_at < $1
			LIMIT $2
		)`

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := r.db.ExecContext(queryCtx, query, cutoff, deleteBatchSize)
		cancel()
		if err != nil {
			if isTableNotExistsError(err) {
				return total, fmt.Errorf("sent_emails table missing, run migrations: %w", err)
			}
			return total, fmt.Errorf("delete expired sent messages: %w", err)
		}

		affected, _ := res.RowsAffected()
		total += affected
		if affected < deleteBatchSize {
			return total, nil
		}
	}
}

// DeleteMessage removes one message; its links follow through ON DELETE
// CASCADE.
func (r *SentMessageRepo) DeleteMessage(ctx context.Context, hash string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sent_emails WHERE hash = $1", hash)
	if err != nil {
		return fmt.Errorf("delete sent message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mailtracker.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilHeaders(h domain.Headers) domain.Headers {
	if h == nil {
		return domain.Headers{}
	}
	return h
}

func nonNilMeta(m domain.Meta) domain.Meta {
	if m == nil {
		return domain.Meta{}
	}
	return m
}

var _ mailtracker.Repository = (*SentMessageRepo)(nil)
