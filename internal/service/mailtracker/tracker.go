package mailtracker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/mail-tracker/internal/domain"
)

// Config controls how messages are tracked.
type Config struct {
	Enabled     bool
	TrackLinks  bool
	InjectPixel bool
	BaseURL     string

	// OptOutHeader, when present on a message, disables tracking for it.
	OptOutHeader string
	// HashHeader carries the message token on the outgoing message.
	HashHeader string
	// TransportIDHeader is read by AfterSend when no transport id is passed.
	TransportIDHeader string

	// ExpireDays is the retention window; zero or less disables the sweep.
	ExpireDays int
	// LogContent stores the rewritten body through the ContentStore.
	LogContent bool

	// AllowedTopics lists the SNS topic ARNs accepted by the reconciler.
	// Empty disables the check.
	AllowedTopics []string
	// ConfirmSubscriptions visits SubscribeURL on SubscriptionConfirmation.
	ConfirmSubscriptions bool

	// BeaconTimeout bounds the store work done for one open.
	BeaconTimeout time.Duration
}

// DefaultConfig returns the configuration used when none is provided.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		TrackLinks:           true,
		InjectPixel:          true,
		OptOutHeader:         "X-No-Track",
		HashHeader:           "X-Mailer-Hash",
		TransportIDHeader:    "X-SES-Message-ID",
		LogContent:           true,
		ConfirmSubscriptions: true,
		BeaconTimeout:        2 * time.Second,
	}
}

// Validate checks the settings tracking cannot work without. A disabled
// tracker is always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}
	return nil
}

// ParseTopics splits a comma-separated topic list.
func ParseTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ContentStore persists message bodies. Put sets either msg.Content or
// msg.ContentPath. Delete removes what Put stored outside the record.
type ContentStore interface {
	Put(ctx context.Context, msg *domain.SentMessage, body string) error
	Get(ctx context.Context, msg *domain.SentMessage) (string, error)
	Delete(ctx context.Context, msg *domain.SentMessage) error
}

// Dispatcher receives tracker events. Implementations must not block the
// caller for long; delivery failures are theirs to log.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt domain.Event)
}

// SubscriptionConfirmer visits an SNS SubscribeURL.
type SubscriptionConfirmer interface {
	Confirm(ctx context.Context, subscribeURL string) error
}

// Tracker is the mail tracking service. It is safe for concurrent use once
// configured; the Set* methods must be called before serving traffic.
type Tracker struct {
	repo      Repository
	cfg       Config
	routes    Routes
	rewriter  *Rewriter
	content   ContentStore
	events    Dispatcher
	confirmer SubscriptionConfirmer
	sweeper   *Sweeper
	cfgErr    error
	newToken  func() (string, error)
	now       func() time.Time
}

// NewTracker creates a tracker backed by repo. With an invalid Config every
// message is sent untracked and the reason logged; callers should Validate
// first.
func NewTracker(repo Repository, cfg Config) *Tracker {
	if cfg.BeaconTimeout <= 0 {
		cfg.BeaconTimeout = 2 * time.Second
	}
	routes := NewRoutes(cfg.BaseURL)
	return &Tracker{
		repo:     repo,
		cfg:      cfg,
		routes:   routes,
		rewriter: NewRewriter(routes, cfg.TrackLinks, cfg.InjectPixel),
		cfgErr:   cfg.Validate(),
		newToken: NewOpaqueID,
		now:      time.Now,
	}
}

// SetContentStore configures where message bodies are kept. Without one,
// bodies are stored inline on the record.
func (t *Tracker) SetContentStore(cs ContentStore) { t.content = cs }

// SetDispatcher configures the event listener.
func (t *Tracker) SetDispatcher(d Dispatcher) { t.events = d }

// SetConfirmer configures how subscription confirmations are performed.
func (t *Tracker) SetConfirmer(c SubscriptionConfirmer) { t.confirmer = c }

// SetSweeper configures the retention sweep run on every tracked send.
func (t *Tracker) SetSweeper(s *Sweeper) { t.sweeper = s }

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// SetTokenSource overrides token generation.
func (t *Tracker) SetTokenSource(fn func() (string, error)) { t.newToken = fn }

// Routes returns the URL builder used for rewritten messages.
func (t *Tracker) Routes() Routes { return t.routes }

// Message returns the record for a token.
func (t *Tracker) Message(ctx context.Context, hash string) (*domain.SentMessage, error) {
	return t.repo.MessageByHash(ctx, hash)
}

// LinksFor returns the tracked links of a message.
func (t *Tracker) LinksFor(ctx context.Context, hash string) ([]domain.TrackedLink, error) {
	return t.repo.LinksFor(ctx, hash)
}

// Content returns the stored body of a message.
func (t *Tracker) Content(ctx context.Context, msg *domain.SentMessage) (string, error) {
	if t.content == nil || msg.ContentPath == "" {
		return msg.Content, nil
	}
	return t.content.Get(ctx, msg)
}

func (t *Tracker) emit(ctx context.Context, evt domain.Event) {
	if t.events == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = t.now().UTC()
	}
	t.events.Dispatch(ctx, evt)
}
