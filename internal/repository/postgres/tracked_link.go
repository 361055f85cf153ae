package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// FindOrCreateLink inserts the link unless (sent_email_id, hash) exists and
// then reads it back, so concurrent first clicks converge on one row.
func (r *SentMessageRepo) FindOrCreateLink(ctx context.Context, hash string, link *domain.TrackedLink) (*domain.TrackedLink, error) {
	id := link.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sent_emails_url_clicked (id, sent_email_id, hash, url, clicks, created_at, updated_at)
		SELECT $1, id, $2, $3, 0, NOW(), NOW() FROM sent_emails WHERE hash = $4
		ON CONFLICT (sent_email_id, hash) DO NOTHING
	`, id, link.Hash, link.URL, hash)
	if err != nil {
		return nil, fmt.Errorf("insert tracked link: %w", err)
	}
	return r.LinkByHash(ctx, hash, link.Hash)
}

func (r *SentMessageRepo) linkSelect(hash string) sq.SelectBuilder {
	return r.sb.Select(linkColumns...).
		From(linksTable + " l").
		Join(messagesTable + " m ON m.id = l.sent_email_id").
		Where(sq.Eq{"m.hash": hash})
}

func (r *SentMessageRepo) LinkByHash(ctx context.Context, hash, linkHash string) (*domain.TrackedLink, error) {
	query, args, err := r.linkSelect(hash).Where(sq.Eq{"l.hash": linkHash}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var l domain.TrackedLink
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&l.ID, &l.SentMessageID, &l.Hash, &l.URL, &l.Clicks, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mailtracker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked link: %w", err)
	}
	return &l, nil
}

func (r *SentMessageRepo) LinksFor(ctx context.Context, hash string) ([]domain.TrackedLink, error) {
	query, args, err := r.linkSelect(hash).OrderBy("l.created_at", "l.id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracked links: %w", err)
	}
	defer rows.Close()

	var links []domain.TrackedLink
	for rows.Next() {
		var l domain.TrackedLink
		if err := rows.Scan(&l.ID, &l.SentMessageID, &l.Hash, &l.URL, &l.Clicks, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tracked link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// RecordClick bumps the link and message counters in one transaction.
func (r *SentMessageRepo) RecordClick(ctx context.Context, hash, linkHash string) error {
	linkQuery, linkArgs, err := r.sb.
		Update(linksTable).
		Set("clicks", sq.Expr("clicks + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"hash": linkHash}).
		Where(sq.Expr("sent_email_id = (SELECT id FROM sent_emails WHERE hash = ?)", hash)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	msgQuery, msgArgs, err := r.sb.
		Update(messagesTable).
		Set("clicks", sq.Expr("clicks + 1")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"hash": hash}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin click tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, linkQuery, linkArgs...)
	if err != nil {
		return fmt.Errorf("increment link clicks: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mailtracker.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, msgQuery, msgArgs...); err != nil {
		return fmt.Errorf("increment message clicks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit click tx: %w", err)
	}
	return nil
}
