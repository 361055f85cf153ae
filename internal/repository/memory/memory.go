// Package memory is an in-process implementation of mailtracker.Repository,
// used by tests and single-node deployments that do not need persistence.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// Repo stores sent messages and links in maps guarded by a single mutex.
type Repo struct {
	mu       sync.RWMutex
	messages map[string]*domain.SentMessage            // by hash
	links    map[string]map[string]*domain.TrackedLink // by message hash, link hash
	now      func() time.Time
}

// NewRepo creates an empty repository.
func NewRepo() *Repo {
	return &Repo{
		messages: make(map[string]*domain.SentMessage),
		links:    make(map[string]map[string]*domain.TrackedLink),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for UpdatedAt stamps.
func (r *Repo) SetClock(now func() time.Time) { r.now = now }

func (r *Repo) CreateMessage(_ context.Context, msg *domain.SentMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.messages[msg.Hash]; exists {
		return mailtracker.ErrDuplicateHash
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := r.now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	r.messages[msg.Hash] = cloneMessage(msg)
	return nil
}

func (r *Repo) MessageByHash(_ context.Context, hash string) (*domain.SentMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[hash]
	if !ok {
		return nil, mailtracker.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (r *Repo) MessageByTransportID(_ context.Context, messageID string) (*domain.SentMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.SentMessage
	for _, m := range r.messages {
		if m.TransportID() != messageID {
			continue
		}
		if found == nil || m.CreatedAt.After(found.CreatedAt) {
			found = m
		}
	}
	if found == nil {
		return nil, mailtracker.ErrNotFound
	}
	return cloneMessage(found), nil
}

func (r *Repo) SetTransportID(_ context.Context, hash, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[hash]
	if !ok {
		return false, mailtracker.ErrNotFound
	}
	if m.MessageID != nil {
		return false, nil
	}
	id := messageID
	m.MessageID = &id
	m.UpdatedAt = r.now().UTC()
	return true, nil
}

func (r *Repo) IncrementOpens(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[hash]
	if !ok {
		return mailtracker.ErrNotFound
	}
	m.Opens++
	m.UpdatedAt = r.now().UTC()
	return nil
}

func (r *Repo) FindOrCreateLink(_ context.Context, hash string, link *domain.TrackedLink) (*domain.TrackedLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[hash]
	if !ok {
		return nil, mailtracker.ErrNotFound
	}
	byHash := r.links[hash]
	if byHash == nil {
		byHash = make(map[string]*domain.TrackedLink)
		r.links[hash] = byHash
	}
	if existing, ok := byHash[link.Hash]; ok {
		cp := *existing
		return &cp, nil
	}

	now := r.now().UTC()
	created := &domain.TrackedLink{
		ID:            uuid.New().String(),
		SentMessageID: m.ID,
		Hash:          link.Hash,
		URL:           link.URL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	byHash[link.Hash] = created
	cp := *created
	return &cp, nil
}

func (r *Repo) LinkByHash(_ context.Context, hash, linkHash string) (*domain.TrackedLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.links[hash][linkHash]
	if !ok {
		return nil, mailtracker.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *Repo) LinksFor(_ context.Context, hash string) ([]domain.TrackedLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.TrackedLink, 0, len(r.links[hash]))
	for _, l := range r.links[hash] {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].URL < out[j].URL
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repo) RecordClick(_ context.Context, hash, linkHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[hash]
	if !ok {
		return mailtracker.ErrNotFound
	}
	l, ok := r.links[hash][linkHash]
	if !ok {
		return mailtracker.ErrNotFound
	}
	now := r.now().UTC()
	l.Clicks++
	l.UpdatedAt = now
	m.Clicks++
	m.UpdatedAt = now
	return nil
}

func (r *Repo) MergeMeta(_ context.Context, hash string, patch domain.Meta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[hash]
	if !ok {
		return mailtracker.ErrNotFound
	}
	m.Meta = m.Meta.Merge(patch)
	m.UpdatedAt = r.now().UTC()
	return nil
}

func (r *Repo) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for hash, m := range r.messages {
		if m.CreatedAt.Before(cutoff) {
			delete(r.messages, hash)
			delete(r.links, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (r *Repo) DeleteMessage(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[hash]; !ok {
		return mailtracker.ErrNotFound
	}
	delete(r.messages, hash)
	delete(r.links, hash)
	return nil
}

func cloneMessage(m *domain.SentMessage) *domain.SentMessage {
	cp := *m
	if m.MessageID != nil {
		id := *m.MessageID
		cp.MessageID = &id
	}
	cp.Headers = append(domain.Headers(nil), m.Headers...)
	cp.Meta = m.Meta.Merge(nil)
	return &cp
}

var _ mailtracker.Repository = (*Repo)(nil)
