package mailtracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
)

const maxTokenAttempts = 3

// BeforeSend prepares msg for tracking and returns the message to send.
//
// Tracking never blocks a send: when it is disabled, opted out, or fails for
// any reason the original message is returned unchanged (minus the opt-out
// header) and the failure is logged.
func (t *Tracker) BeforeSend(ctx context.Context, msg domain.OutgoingMessage) (out domain.OutgoingMessage) {
	if !t.cfg.Enabled {
		return msg
	}
	if t.cfg.OptOutHeader != "" && msg.Headers.Has(t.cfg.OptOutHeader) {
		msg.Headers = msg.Headers.Without(t.cfg.OptOutHeader)
		return msg
	}
	if t.cfg.HashHeader != "" && msg.Headers.Has(t.cfg.HashHeader) {
		return msg
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("mail-tracker: panic while tracking message, sending untracked",
				"panic", r, "recipient", domain.FormatAddresses(msg.To))
			out = msg
		}
	}()

	tracked, err := t.track(ctx, msg)
	if err != nil {
		logger.Error("mail-tracker: tracking failed, sending untracked",
			"error", err, "recipient", domain.FormatAddresses(msg.To))
		return msg
	}
	return tracked
}

func (t *Tracker) track(ctx context.Context, msg domain.OutgoingMessage) (domain.OutgoingMessage, error) {
	if t.cfgErr != nil {
		return msg, t.cfgErr
	}
	if t.sweeper != nil {
		if _, err := t.sweeper.Sweep(ctx); err != nil {
			logger.Warn("mail-tracker: retention sweep failed", "error", err)
		}
	}

	var (
		record *domain.SentMessage
		body   string
		links  []RewrittenLink
	)
	for attempt := 1; ; attempt++ {
		token, err := t.newToken()
		if err != nil {
			return msg, err
		}

		body = msg.Body.Content
		links = nil
		if msg.Body.IsHTML() {
			body, links, err = t.rewriter.Rewrite(msg.Body.Content, token)
			if err != nil {
				return msg, fmt.Errorf("rewrite body: %w", err)
			}
		}

		now := t.now().UTC()
		record = &domain.SentMessage{
			Hash:      token,
			Sender:    msg.From.String(),
			Recipient: domain.FormatAddresses(msg.To),
			Subject:   msg.Subject,
			Headers:   msg.Headers.With(t.cfg.HashHeader, token),
			Meta:      domain.Meta{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if t.content != nil && t.cfg.LogContent {
			// External content is keyed by token; never write over a live record's body.
			taken, err := t.tokenTaken(ctx, token)
			if err != nil {
				return msg, err
			}
			if taken {
				if attempt == maxTokenAttempts {
					return msg, fmt.Errorf("create sent message: %w", ErrDuplicateHash)
				}
				continue
			}
		}
		if err := t.storeContent(ctx, record, body); err != nil {
			return msg, err
		}

		err = t.repo.CreateMessage(ctx, record)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateHash) {
			t.discardContent(ctx, record)
			return msg, fmt.Errorf("create sent message: %w", err)
		}
		if attempt == maxTokenAttempts {
			return msg, fmt.Errorf("create sent message: %w", err)
		}
	}

	for _, l := range links {
		if _, err := t.repo.FindOrCreateLink(ctx, record.Hash, &domain.TrackedLink{Hash: l.ID, URL: l.URL}); err != nil {
			t.rollback(ctx, record)
			return msg, fmt.Errorf("create tracked link: %w", err)
		}
	}

	t.emit(ctx, domain.Event{
		Type:         domain.EventEmailSent,
		MessageHash:  record.Hash,
		EmailAddress: record.Recipient,
	})

	out := msg
	out.Headers = record.Headers
	out.Body = domain.Body{Kind: msg.Body.Kind, Content: body}
	return out, nil
}

func (t *Tracker) storeContent(ctx context.Context, record *domain.SentMessage, body string) error {
	if !t.cfg.LogContent {
		return nil
	}
	if t.content == nil {
		record.Content = body
		return nil
	}
	if err := t.content.Put(ctx, record, body); err != nil {
		return fmt.Errorf("store content: %w", err)
	}
	return nil
}

func (t *Tracker) tokenTaken(ctx context.Context, token string) (bool, error) {
	_, err := t.repo.MessageByHash(ctx, token)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("check token: %w", err)
}

// rollback removes a record whose message goes out untracked, so no row or
// object is left for a token nobody will ever hit.
func (t *Tracker) rollback(ctx context.Context, record *domain.SentMessage) {
	if err := t.repo.DeleteMessage(ctx, record.Hash); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Warn("mail-tracker: could not remove partial sent message", "hash", record.Hash, "error", err)
	}
	t.discardContent(ctx, record)
}

func (t *Tracker) discardContent(ctx context.Context, record *domain.SentMessage) {
	if t.content == nil || record.ContentPath == "" {
		return
	}
	if err := t.content.Delete(ctx, record); err != nil {
		logger.Warn("mail-tracker: could not remove stored content", "hash", record.Hash, "error", err)
	}
}

// AfterSend records the transport message id of a tracked message. When
// transportID is empty it is read from the configured transport id header.
// Untracked messages and messages without an id are ignored. The first id
// recorded for a message wins.
func (t *Tracker) AfterSend(ctx context.Context, msg domain.OutgoingMessage, transportID string) error {
	hash, ok := msg.Headers.Get(t.cfg.HashHeader)
	if !ok || hash == "" {
		return nil
	}
	if transportID == "" && t.cfg.TransportIDHeader != "" {
		transportID, _ = msg.Headers.Get(t.cfg.TransportIDHeader)
	}
	if transportID == "" {
		return nil
	}

	set, err := t.repo.SetTransportID(ctx, hash, transportID)
	if err != nil {
		return fmt.Errorf("record transport id: %w", err)
	}
	if !set {
		logger.Debug("mail-tracker: transport id already recorded", "hash", hash, "message_id", transportID)
	}
	return nil
}
