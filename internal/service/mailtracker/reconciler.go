package mailtracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
)

// SNS envelope types.
const (
	EnvelopeSubscriptionConfirmation = "SubscriptionConfirmation"
	EnvelopeNotification             = "Notification"
	EnvelopeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// Acknowledgement bodies returned to the webhook caller.
const (
	AckSubscriptionConfirmed = "subscription confirmed"
	AckUnsubscribeConfirmed  = "unsubscribe confirmed"
	AckNotificationProcessed = "notification processed"
)

// Envelope is an SNS HTTP(S) delivery. Only the fields the reconciler uses
// are decoded; Timestamp and SignatureVersion vary in type between senders.
type Envelope struct {
	Type         string          `json:"Type"`
	MessageID    string          `json:"MessageId"`
	TopicArn     string          `json:"TopicArn"`
	Message      json.RawMessage `json:"Message"`
	SubscribeURL string          `json:"SubscribeURL"`
	Token        string          `json:"Token"`
}

// body returns Message as text. SNS sends it as a JSON string; raw message
// delivery sends the object itself.
func (e *Envelope) body() []byte {
	raw := bytes.TrimSpace(e.Message)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

// sesNotification is the SES payload carried inside a Notification.
type sesNotification struct {
	NotificationType string        `json:"notificationType"`
	EventType        string        `json:"eventType"`
	Mail             sesMail       `json:"mail"`
	Delivery         *sesDelivery  `json:"delivery"`
	Bounce           *sesBounce    `json:"bounce"`
	Complaint        *sesComplaint `json:"complaint"`
	raw              map[string]any
}

type sesMail struct {
	MessageID string `json:"messageId"`
}

type sesDelivery struct {
	Timestamp            json.RawMessage `json:"timestamp"`
	ProcessingTimeMillis json.RawMessage `json:"processingTimeMillis"`
	Recipients           []string        `json:"recipients"`
	SMTPResponse         string          `json:"smtpResponse"`
	ReportingMTA         string          `json:"reportingMTA"`
}

type sesBounce struct {
	BounceType        string           `json:"bounceType"`
	BounceSubType     string           `json:"bounceSubType"`
	BouncedRecipients []sesBouncedRcpt `json:"bouncedRecipients"`
	Timestamp         json.RawMessage  `json:"timestamp"`
	FeedbackID        string           `json:"feedbackId"`
}

type sesBouncedRcpt struct {
	EmailAddress   string `json:"emailAddress"`
	Status         string `json:"status,omitempty"`
	Action         string `json:"action,omitempty"`
	DiagnosticCode string `json:"diagnosticCode,omitempty"`
}

type sesComplaint struct {
	ComplainedRecipients  []sesBouncedRcpt `json:"complainedRecipients"`
	Timestamp             json.RawMessage  `json:"timestamp"`
	FeedbackID            string           `json:"feedbackId"`
	ComplaintFeedbackType string           `json:"complaintFeedbackType"`
	UserAgent             string           `json:"userAgent"`
}

// HandleEnvelope processes one SNS envelope and returns the acknowledgement
// text. Only ErrUnsupportedEnvelopeType and ErrUnknownTopic are returned;
// problems inside a notification are logged and acknowledged so SNS does
// not redeliver.
func (t *Tracker) HandleEnvelope(ctx context.Context, raw []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedEnvelopeType, err)
	}

	switch env.Type {
	case EnvelopeSubscriptionConfirmation, EnvelopeNotification, EnvelopeUnsubscribeConfirmation:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEnvelopeType, env.Type)
	}

	if !t.topicAllowed(env.TopicArn) {
		logger.Warn("mail-tracker: rejected envelope from unknown topic", "topic", env.TopicArn, "type", env.Type)
		return "", ErrUnknownTopic
	}

	switch env.Type {
	case EnvelopeSubscriptionConfirmation:
		t.confirmSubscription(env)
		return AckSubscriptionConfirmed, nil
	case EnvelopeUnsubscribeConfirmation:
		logger.Info("mail-tracker: topic unsubscribed", "topic", env.TopicArn)
		return AckUnsubscribeConfirmed, nil
	}

	if err := t.reconcile(ctx, env.body()); err != nil {
		logger.Warn("mail-tracker: notification not applied", "sns_message_id", env.MessageID, "error", err)
	}
	return AckNotificationProcessed, nil
}

func (t *Tracker) topicAllowed(arn string) bool {
	if len(t.cfg.AllowedTopics) == 0 {
		return true
	}
	for _, allowed := range t.cfg.AllowedTopics {
		if arn == allowed {
			return true
		}
	}
	return false
}

func (t *Tracker) confirmSubscription(env Envelope) {
	if !t.cfg.ConfirmSubscriptions || t.confirmer == nil {
		return
	}
	if !trustedSubscribeURL(env.SubscribeURL) {
		logger.Warn("mail-tracker: not confirming subscription, untrusted SubscribeURL",
			"topic", env.TopicArn, "subscribe_url", env.SubscribeURL)
		return
	}
	go func() {
		if err := t.confirmer.Confirm(context.Background(), env.SubscribeURL); err != nil {
			logger.Error("mail-tracker: subscription confirmation failed", "topic", env.TopicArn, "error", err)
			return
		}
		logger.Info("mail-tracker: subscription confirmed", "topic", env.TopicArn)
	}()
}

// trustedSubscribeURL accepts https URLs on an amazonaws.com host.
func trustedSubscribeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return strings.HasSuffix(host, ".amazonaws.com") || strings.HasSuffix(host, ".amazonaws.com.cn")
}

func (t *Tracker) reconcile(ctx context.Context, body []byte) error {
	var n sesNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%w: message is not JSON: %v", ErrMalformedNotification, err)
	}
	// Keep the whole payload for the meta snapshot.
	if err := json.Unmarshal(body, &n.raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	kind := n.NotificationType
	if kind == "" {
		kind = n.EventType
	}
	if n.Mail.MessageID == "" {
		return fmt.Errorf("%w: %s without mail.messageId", ErrMalformedNotification, kind)
	}

	var (
		patch  domain.Meta
		events []domain.Event
	)
	switch kind {
	case "Delivery":
		patch, events = deliveryPatch(&n)
	case "Bounce":
		patch, events = bouncePatch(&n)
	case "Complaint":
		patch, events = complaintPatch(&n)
	default:
		logger.Info("mail-tracker: ignoring notification type", "type", kind, "message_id", n.Mail.MessageID)
		return nil
	}

	msg, err := t.repo.MessageByTransportID(ctx, n.Mail.MessageID)
	if errors.Is(err, ErrNotFound) {
		logger.Info("mail-tracker: notification for untracked message", "type", kind, "message_id", n.Mail.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find message %s: %w", n.Mail.MessageID, err)
	}

	if err := t.repo.MergeMeta(ctx, msg.Hash, patch); err != nil {
		return fmt.Errorf("merge meta for %s: %w", msg.Hash, err)
	}

	for _, evt := range events {
		evt.MessageHash = msg.Hash
		evt.MessageID = n.Mail.MessageID
		t.emit(ctx, evt)
	}
	return nil
}

func deliveryPatch(n *sesNotification) (domain.Meta, []domain.Event) {
	patch := domain.Meta{"success": true}
	if d := n.Delivery; d != nil {
		putString(patch, "smtpResponse", d.SMTPResponse)
		putString(patch, "reportingMTA", d.ReportingMTA)
		putRaw(patch, "delivered_at", d.Timestamp)
		putRaw(patch, "processingTimeMillis", d.ProcessingTimeMillis)
	} else {
		logger.Warn("mail-tracker: delivery notification without delivery section", "message_id", n.Mail.MessageID)
	}
	patch["sns_message_delivery"] = n.raw

	var events []domain.Event
	recipients := []string(nil)
	if n.Delivery != nil {
		recipients = n.Delivery.Recipients
	}
	for _, r := range recipients {
		events = append(events, domain.Event{Type: domain.EventDelivered, EmailAddress: r})
	}
	if len(events) == 0 {
		events = append(events, domain.Event{Type: domain.EventDelivered})
	}
	return patch, events
}

func bouncePatch(n *sesNotification) (domain.Meta, []domain.Event) {
	patch := domain.Meta{"success": false}
	patch["sns_message_bounce"] = n.raw

	b := n.Bounce
	if b == nil {
		logger.Warn("mail-tracker: bounce notification without bounce section", "message_id", n.Mail.MessageID)
		return patch, nil
	}
	putString(patch, "bounce_type", b.BounceType)
	putString(patch, "bounce_sub_type", b.BounceSubType)
	putRaw(patch, "bounced_at", b.Timestamp)

	failures := make([]any, 0, len(b.BouncedRecipients))
	events := make([]domain.Event, 0, len(b.BouncedRecipients))
	permanent := strings.EqualFold(b.BounceType, "Permanent")
	for _, r := range b.BouncedRecipients {
		failures = append(failures, map[string]any{
			"emailAddress":   r.EmailAddress,
			"status":         r.Status,
			"action":         r.Action,
			"diagnosticCode": r.DiagnosticCode,
		})
		evtType := domain.EventBounced
		if permanent {
			evtType = domain.EventPermanentBounced
		}
		events = append(events, domain.Event{
			Type:         evtType,
			EmailAddress: r.EmailAddress,
			BounceType:   b.BounceType,
			SubType:      b.BounceSubType,
		})
	}
	if len(failures) > 0 {
		patch["failures"] = failures
	}
	return patch, events
}

func complaintPatch(n *sesNotification) (domain.Meta, []domain.Event) {
	patch := domain.Meta{"success": false, "complaint": true}
	patch["sns_message_complaint"] = n.raw

	c := n.Complaint
	if c == nil {
		logger.Warn("mail-tracker: complaint notification without complaint section", "message_id", n.Mail.MessageID)
		return patch, nil
	}
	putString(patch, "complaint_type", c.ComplaintFeedbackType)
	putRaw(patch, "complaint_time", c.Timestamp)

	events := make([]domain.Event, 0, len(c.ComplainedRecipients))
	for _, r := range c.ComplainedRecipients {
		events = append(events, domain.Event{
			Type:         domain.EventComplaint,
			EmailAddress: r.EmailAddress,
			SubType:      c.ComplaintFeedbackType,
		})
	}
	return patch, events
}

func putString(m domain.Meta, key, val string) {
	if val != "" {
		m[key] = val
	}
}

func putRaw(m domain.Meta, key string, raw json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		m[key] = v
	}
}
