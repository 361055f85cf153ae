package mailtracker

import (
	"context"
	"errors"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
)

// OpenRequest is one beacon hit.
type OpenRequest struct {
	Token     string
	IPAddress string
	UserAgent string
}

// RecordOpen counts an open for the token and reports whether it matched a
// message. It never fails: the caller serves the beacon image regardless.
// Store work is bounded by Config.BeaconTimeout.
func (t *Tracker) RecordOpen(ctx context.Context, req OpenRequest) bool {
	if req.Token == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.BeaconTimeout)
	defer cancel()

	if err := t.repo.IncrementOpens(ctx, req.Token); err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Warn("mail-tracker: failed to record open", "hash", req.Token, "error", err)
		}
		return false
	}

	t.emit(ctx, domain.Event{
		Type:        domain.EventViewEmail,
		MessageHash: req.Token,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
	})
	return true
}
