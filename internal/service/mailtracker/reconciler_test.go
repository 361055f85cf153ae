package mailtracker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

func envelope(t *testing.T, typ, topic string, message any) []byte {
	t.Helper()
	msg, ok := message.(string)
	if !ok {
		b, err := json.Marshal(message)
		require.NoError(t, err)
		msg = string(b)
	}
	b, err := json.Marshal(map[string]any{
		"Type":             typ,
		"MessageId":        "sns-1",
		"TopicArn":         topic,
		"Message":          msg,
		"Timestamp":        time.Now().Unix(),
		"Signature":        "sig",
		"SigningCertURL":   "https://sns.us-east-1.amazonaws.com/cert.pem",
		"SignatureVersion": 1,
		"SubscribeURL":     "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription&Token=abc",
		"Token":            "abc",
	})
	require.NoError(t, err)
	return b
}

// trackedWithTransportID sends a message and records its transport id.
func trackedWithTransportID(t *testing.T, h *harness, transportID string) string {
	t.Helper()
	out, token := h.send(t, htmlMessage(`<p>hi</p>`))
	require.NoError(t, h.tracker.AfterSend(context.Background(), out, transportID))
	return token
}

type confirmerFunc func(ctx context.Context, url string) error

func (f confirmerFunc) Confirm(ctx context.Context, url string) error { return f(ctx, url) }

func TestHandleEnvelope_SubscriptionConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	confirmed := make(chan string, 1)
	h.tracker.SetConfirmer(confirmerFunc(func(_ context.Context, url string) error {
		confirmed <- url
		return nil
	}))

	ack, err := h.tracker.HandleEnvelope(context.Background(), envelope(t, "SubscriptionConfirmation", "any-topic", "test subscription message"))
	require.NoError(t, err)
	assert.Equal(t, mailtracker.AckSubscriptionConfirmed, ack)

	select {
	case url := <-confirmed:
		assert.Contains(t, url, "ConfirmSubscription")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not confirmed")
	}
}

func TestHandleEnvelope_UntrustedSubscribeURLNotVisited(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.SetConfirmer(confirmerFunc(func(context.Context, string) error {
		t.Error("confirmer must not be called for untrusted URLs")
		return nil
	}))

	raw := envelope(t, "SubscriptionConfirmation", "topic", "hello")
	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	env["SubscribeURL"] = "http://google.com"
	raw, _ = json.Marshal(env)

	ack, err := h.tracker.HandleEnvelope(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, mailtracker.AckSubscriptionConfirmed, ack)
	time.Sleep(20 * time.Millisecond)
}

func TestHandleEnvelope_TopicAllowlist(t *testing.T) {
	h := newHarness(t, func(c *mailtracker.Config) {
		c.AllowedTopics = mailtracker.ParseTopics("arn:aws:sns:us-east-1:1:first, arn:aws:sns:us-east-1:1:second")
		c.ConfirmSubscriptions = false
	})
	ctx := context.Background()

	ack, err := h.tracker.HandleEnvelope(ctx, envelope(t, "SubscriptionConfirmation", "arn:aws:sns:us-east-1:1:second", "m"))
	require.NoError(t, err)
	assert.Equal(t, mailtracker.AckSubscriptionConfirmed, ack)

	_, err = h.tracker.HandleEnvelope(ctx, envelope(t, "SubscriptionConfirmation", "arn:aws:sns:us-east-1:1:other", "m"))
	assert.ErrorIs(t, err, mailtracker.ErrUnknownTopic)
	assert.Equal(t, "invalid topic ARN", err.Error())
}

func TestHandleEnvelope_Unsupported(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.tracker.HandleEnvelope(ctx, envelope(t, "Gibberish", "topic", "m"))
	assert.True(t, errors.Is(err, mailtracker.ErrUnsupportedEnvelopeType), "got %v", err)

	_, err = h.tracker.HandleEnvelope(ctx, []byte("not json"))
	assert.True(t, errors.Is(err, mailtracker.ErrUnsupportedEnvelopeType), "got %v", err)
}

func TestHandleEnvelope_Delivery(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	token := trackedWithTransportID(t, h, "ses-delivery-1")
	require.NoError(t, h.repo.MergeMeta(ctx, token, domain.Meta{"campaign": "spring"}))

	ack, err := h.tracker.HandleEnvelope(ctx, envelope(t, "Notification", "topic", map[string]any{
		"notificationType": "Delivery",
		"mail":             map[string]any{"messageId": "ses-delivery-1", "timestamp": 1700000000},
		"delivery": map[string]any{
			"timestamp":            1700000001,
			"processingTimeMillis": 1000,
			"recipients":           []string{"destination@example.com"},
			"smtpResponse":         "test smtp response",
			"reportingMTA":         "a1-23.smtp-out.amazonses.com",
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, mailtracker.AckNotificationProcessed, ack)

	rec, err := h.repo.MessageByHash(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "test smtp response", rec.Meta.SMTPResponse())
	success, ok := rec.Meta.Success()
	assert.True(t, ok)
	assert.True(t, success)
	assert.Equal(t, "spring", rec.Meta["campaign"], "earlier meta keys must survive the merge")
	assert.Contains(t, rec.Meta, "sns_message_delivery")

	delivered := h.events.ofType(domain.EventDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, "destination@example.com", delivered[0].EmailAddress)
	assert.Equal(t, token, delivered[0].MessageHash)
}

func TestHandleEnvelope_PermanentBounce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	token := trackedWithTransportID(t, h, "ses-bounce-1")

	ack, err := h.tracker.HandleEnvelope(ctx, envelope(t, "Notification", "topic", map[string]any{
		"notificationType": "Bounce",
		"mail":             map[string]any{"messageId": "ses-bounce-1"},
		"bounce": map[string]any{
			"bounceType":    "Permanent",
			"bounceSubType": "General",
			"bouncedRecipients": []map[string]any{{
				"status":         "5.0.0",
				"action":         "failed",
				"diagnosticCode": "smtp; 550 user unknown",
				"emailAddress":   "recipient@example.com",
			}},
			"timestamp":  1700000000,
			"feedbackId": "fb",
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, mailtracker.AckNotificationProcessed, ack)

	rec, err := h.repo.MessageByHash(ctx, token)
	require.NoError(t, err)
	success, ok := rec.Meta.Success()
	assert.True(t, ok)
	assert.False(t, success)
	assert.Equal(t, "Permanent", rec.Meta["bounce_type"])

	bounced := h.events.ofType(domain.EventPermanentBounced)
	require.Len(t, bounced, 1)
	assert.Equal(t, "recipient@example.com", bounced[0].EmailAddress)
	assert.Empty(t, h.events.ofType(domain.EventBounced))
}

func TestHandleEnvelope_TransientBounce(t *testing.T) {
	h := newHarness(t, nil)
	trackedWithTransportID(t, h, "ses-bounce-2")

	_, err := h.tracker.HandleEnvelope(context.Background(), envelope(t, "Notification", "topic", map[string]any{
		"notificationType": "Bounce",
		"mail":             map[string]any{"messageId": "ses-bounce-2"},
		"bounce": map[string]any{
			"bounceType":        "Transient",
			"bounceSubType":     "MailboxFull",
			"bouncedRecipients": []map[string]any{{"emailAddress": "full@example.com"}},
		},
	}))
	require.NoError(t, err)

	bounced := h.events.ofType(domain.EventBounced)
	require.Len(t, bounced, 1)
	assert.Equal(t, "MailboxFull", bounced[0].SubType)
	assert.Empty(t, h.events.ofType(domain.EventPermanentBounced))
}

func TestHandleEnvelope_Complaint(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	token := trackedWithTransportID(t, h, "ses-complaint-1")

	ack, err := h.tracker.HandleEnvelope(ctx, envelope(t, "Notification", "topic", map[string]any{
		"notificationType": "Complaint",
		"mail":             map[string]any{"messageId": "ses-complaint-1"},
		"complaint": map[string]any{
			"complainedRecipients":  []map[string]any{{"emailAddress": "recipient@example.com"}},
			"timestamp":             1700000000,
			"feedbackId":            "fb",
			"userAgent":             "ua",
			"complaintFeedbackType": "feedback type",
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, mailtracker.AckNotificationProcessed, ack)

	rec, err := h.repo.MessageByHash(ctx, token)
	require.NoError(t, err)
	success, _ := rec.Meta.Success()
	assert.False(t, success)
	assert.Equal(t, true, rec.Meta["complaint"])

	complaints := h.events.ofType(domain.EventComplaint)
	require.Len(t, complaints, 1)
	assert.Equal(t, "recipient@example.com", complaints[0].EmailAddress)
}

func TestHandleEnvelope_UnmatchedAndMalformedAreAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	token := trackedWithTransportID(t, h, "known-id")

	payloads := []any{
		map[string]any{"notificationType": "Delivery", "mail": map[string]any{"messageId": "unknown-id"}},
		map[string]any{"notificationType": "Delivery", "mail": map[string]any{}},
		map[string]any{"notificationType": "Received", "mail": map[string]any{"messageId": "known-id"}},
		"this is not json",
	}
	for _, p := range payloads {
		ack, err := h.tracker.HandleEnvelope(ctx, envelope(t, "Notification", "topic", p))
		require.NoError(t, err)
		assert.Equal(t, mailtracker.AckNotificationProcessed, ack)
	}

	rec, err := h.repo.MessageByHash(ctx, token)
	require.NoError(t, err)
	assert.Empty(t, rec.Meta)
}
