package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

func seed(t *testing.T, r *Repo, hash string, createdAt time.Time) *domain.SentMessage {
	t.Helper()
	msg := &domain.SentMessage{Hash: hash, Recipient: "a@example.com", CreatedAt: createdAt}
	if err := r.CreateMessage(context.Background(), msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	return msg
}

func TestCreateMessage_DuplicateHash(t *testing.T) {
	r := NewRepo()
	seed(t, r, "h1", time.Time{})
	err := r.CreateMessage(context.Background(), &domain.SentMessage{Hash: "h1"})
	if err != mailtracker.ErrDuplicateHash {
		t.Fatalf("got %v, want ErrDuplicateHash", err)
	}
}

func TestFindOrCreateLink_Converges(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()
	msg := seed(t, r, "h1", time.Time{})

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := r.FindOrCreateLink(ctx, "h1", &domain.TrackedLink{Hash: "l1", URL: "http://x"})
			if err != nil {
				t.Errorf("FindOrCreateLink: %v", err)
				return
			}
			ids[i] = l.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("links did not converge: %v", ids)
		}
	}
	links, _ := r.LinksFor(ctx, "h1")
	if len(links) != 1 || links[0].SentMessageID != msg.ID {
		t.Fatalf("LinksFor = %+v", links)
	}

	if _, err := r.FindOrCreateLink(ctx, "missing", &domain.TrackedLink{Hash: "l1"}); err != mailtracker.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSetTransportID_FirstWriterWins(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()
	seed(t, r, "h1", time.Time{})

	set, err := r.SetTransportID(ctx, "h1", "first")
	if err != nil || !set {
		t.Fatalf("SetTransportID: set=%v err=%v", set, err)
	}
	set, err = r.SetTransportID(ctx, "h1", "second")
	if err != nil || set {
		t.Fatalf("second SetTransportID: set=%v err=%v", set, err)
	}

	got, err := r.MessageByTransportID(ctx, "first")
	if err != nil {
		t.Fatalf("MessageByTransportID: %v", err)
	}
	if got.Hash != "h1" {
		t.Errorf("Hash = %q", got.Hash)
	}
	if _, err := r.MessageByTransportID(ctx, "second"); err != mailtracker.ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRecordClickAndMergeMeta(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()
	seed(t, r, "h1", time.Time{})
	if _, err := r.FindOrCreateLink(ctx, "h1", &domain.TrackedLink{Hash: "l1", URL: "http://x"}); err != nil {
		t.Fatal(err)
	}

	if err := r.RecordClick(ctx, "h1", "l1"); err != nil {
		t.Fatalf("RecordClick: %v", err)
	}
	if err := r.RecordClick(ctx, "h1", "nope"); err != mailtracker.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := r.MergeMeta(ctx, "h1", domain.Meta{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if err := r.MergeMeta(ctx, "h1", domain.Meta{"b": 2}); err != nil {
		t.Fatal(err)
	}

	msg, _ := r.MessageByHash(ctx, "h1")
	if msg.Clicks != 1 {
		t.Errorf("Clicks = %d, want 1", msg.Clicks)
	}
	if msg.Meta["a"] != 1 || msg.Meta["b"] != 2 {
		t.Errorf("Meta = %v", msg.Meta)
	}
}

func TestDeleteCreatedBefore(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, r, "old", now.Add(-48*time.Hour))
	seed(t, r, "new", now)
	if _, err := r.FindOrCreateLink(ctx, "old", &domain.TrackedLink{Hash: "l", URL: "http://x"}); err != nil {
		t.Fatal(err)
	}

	n, err := r.DeleteCreatedBefore(ctx, now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteCreatedBefore = %d, %v", n, err)
	}
	if _, err := r.LinkByHash(ctx, "old", "l"); err != mailtracker.ErrNotFound {
		t.Errorf("link survived its message: %v", err)
	}
	if _, err := r.MessageByHash(ctx, "new"); err != nil {
		t.Errorf("new message removed: %v", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	r := NewRepo()
	ctx := context.Background()
	seed(t, r, "h1", time.Time{})
	if _, err := r.FindOrCreateLink(ctx, "h1", &domain.TrackedLink{Hash: "l", URL: "http://x"}); err != nil {
		t.Fatal(err)
	}

	if err := r.DeleteMessage(ctx, "h1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if links, _ := r.LinksFor(ctx, "h1"); len(links) != 0 {
		t.Errorf("links survived: %v", links)
	}
	if err := r.DeleteMessage(ctx, "h1"); err != mailtracker.ErrNotFound {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}
