package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

var linkRowColumns = []string{"id", "sent_email_id", "hash", "url", "clicks", "created_at", "updated_at"}

const linkQuery = `SELECT l.id, (.+) FROM sent_emails_url_clicked l JOIN sent_emails m ON m.id = l.sent_email_id WHERE m.hash = \$1 AND l.hash = \$2`

func TestFindOrCreateLink(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sent_emails_url_clicked")).
		WithArgs(sqlmock.AnyArg(), "l1", "http://example.com", "h1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(linkQuery).
		WithArgs("h1", "l1").
		WillReturnRows(sqlmock.NewRows(linkRowColumns).AddRow("link-1", "msg-1", "l1", "http://example.com", int64(4), now, now))

	link, err := repo.FindOrCreateLink(context.Background(), "h1", &domain.TrackedLink{Hash: "l1", URL: "http://example.com"})
	if err != nil {
		t.Fatalf("FindOrCreateLink: %v", err)
	}
	if link.ID != "link-1" || link.Clicks != 4 {
		t.Errorf("got %+v, want the existing row", link)
	}
}

func TestFindOrCreateLink_UnknownMessage(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sent_emails_url_clicked")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(linkQuery).WithArgs("missing", "l1").WillReturnRows(sqlmock.NewRows(linkRowColumns))

	_, err := repo.FindOrCreateLink(context.Background(), "missing", &domain.TrackedLink{Hash: "l1", URL: "http://x"})
	if !errors.Is(err, mailtracker.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLinksFor(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM sent_emails_url_clicked l JOIN sent_emails m ON m.id = l.sent_email_id WHERE m.hash = \$1 ORDER BY l.created_at, l.id`).
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(linkRowColumns).
			AddRow("a", "msg-1", "l1", "http://a", int64(0), now, now).
			AddRow("b", "msg-1", "l2", "http://b", int64(2), now, now))

	links, err := repo.LinksFor(context.Background(), "h1")
	if err != nil {
		t.Fatalf("LinksFor: %v", err)
	}
	if len(links) != 2 || links[1].URL != "http://b" {
		t.Fatalf("LinksFor = %+v", links)
	}
}

func TestRecordClick(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sent_emails_url_clicked SET clicks = clicks + 1, updated_at = NOW() WHERE hash = $1 AND sent_email_id = (SELECT id FROM sent_emails WHERE hash = $2)")).
		WithArgs("l1", "h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sent_emails SET clicks = clicks + 1, updated_at = NOW() WHERE hash = $1")).
		WithArgs("h1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.RecordClick(context.Background(), "h1", "l1"); err != nil {
		t.Fatalf("RecordClick: %v", err)
	}
}

func TestRecordClick_UnknownLinkRollsBack(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sent_emails_url_clicked")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if err := repo.RecordClick(context.Background(), "h1", "nope"); !errors.Is(err, mailtracker.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
