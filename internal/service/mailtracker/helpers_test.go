package mailtracker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/repository/memory"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

const baseURL = "https://track.example.com"

// recorder collects dispatched events.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Dispatch(_ context.Context, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) ofType(typ domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequentialTokens returns deterministic 32-character tokens.
func sequentialTokens() func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("tok%029d", n), nil
	}
}

type harness struct {
	tracker *mailtracker.Tracker
	repo    *memory.Repo
	events  *recorder
	clock   *fakeClock
}

func newHarness(t *testing.T, mutate func(*mailtracker.Config)) *harness {
	t.Helper()
	cfg := mailtracker.DefaultConfig()
	cfg.BaseURL = baseURL
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		repo:   memory.NewRepo(),
		events: &recorder{},
		clock:  newFakeClock(),
	}
	h.repo.SetClock(h.clock.Now)
	h.tracker = mailtracker.NewTracker(h.repo, cfg)
	h.tracker.SetDispatcher(h.events)
	h.tracker.SetClock(h.clock.Now)
	h.tracker.SetTokenSource(sequentialTokens())
	return h
}

func htmlMessage(body string) domain.OutgoingMessage {
	return domain.OutgoingMessage{
		From:    domain.Address{Name: "From Name", Email: "from@johndoe.com"},
		To:      []domain.Address{{Name: "To Name", Email: "destination@example.com"}},
		Subject: "Hello",
		Headers: domain.Headers{{Name: "X-Campaign", Value: "spring"}},
		Body:    domain.Body{Kind: domain.BodyHTML, Content: body},
	}
}

// send runs BeforeSend and returns the token stamped on the message.
func (h *harness) send(t *testing.T, msg domain.OutgoingMessage) (domain.OutgoingMessage, string) {
	t.Helper()
	out := h.tracker.BeforeSend(context.Background(), msg)
	token, ok := out.Headers.Get("X-Mailer-Hash")
	if !ok {
		t.Fatalf("BeforeSend did not stamp X-Mailer-Hash")
	}
	return out, token
}
