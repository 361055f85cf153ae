package mailtracker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
)

// ClickRequest is one inbound redirect. Either LinkID (compact form) or URL
// (direct form) is set.
type ClickRequest struct {
	Token     string
	LinkID    string
	URL       string
	IPAddress string
	UserAgent string
}

// ResolveClick records the click and returns the destination to redirect
// to. Any request that cannot be resolved yields ErrBadURLLink.
func (t *Tracker) ResolveClick(ctx context.Context, req ClickRequest) (string, error) {
	if req.Token == "" || (req.LinkID == "" && req.URL == "") {
		return "", ErrBadURLLink
	}

	msg, err := t.repo.MessageByHash(ctx, req.Token)
	if err != nil {
		return "", badLink(err)
	}

	var link *domain.TrackedLink
	if req.LinkID != "" {
		link, err = t.repo.LinkByHash(ctx, req.Token, req.LinkID)
	} else {
		dest, verr := validDestination(req.URL)
		if verr != nil {
			return "", verr
		}
		link, err = t.repo.FindOrCreateLink(ctx, req.Token, &domain.TrackedLink{
			Hash: DeriveLinkID(dest, req.Token),
			URL:  dest,
		})
	}
	if err != nil {
		return "", badLink(err)
	}

	if err := t.repo.RecordClick(ctx, req.Token, link.Hash); err != nil {
		// the destination is known, so the recipient still gets redirected
		logger.Error("mail-tracker: failed to record click", "hash", req.Token, "link", link.Hash, "error", err)
		return link.URL, nil
	}

	t.emit(ctx, domain.Event{
		Type:         domain.EventLinkClicked,
		MessageHash:  req.Token,
		MessageID:    msg.TransportID(),
		EmailAddress: msg.Recipient,
		URL:          link.URL,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
	})
	return link.URL, nil
}

func badLink(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrBadURLLink
	}
	return fmt.Errorf("%w: %v", ErrBadURLLink, err)
}

// validDestination accepts absolute http(s) URLs only.
func validDestination(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ErrBadURLLink
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return raw, nil
	default:
		return "", ErrBadURLLink
	}
}
