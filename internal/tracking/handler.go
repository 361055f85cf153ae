package tracking

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mail-tracker/internal/pkg/httputil"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// maxWebhookBody caps SNS deliveries; SNS messages are at most 256 KiB.
const maxWebhookBody = 1 << 20

type Handler struct {
	tracker       *mailtracker.Tracker
	redirectLimit func(http.Handler) http.Handler
}

func NewHandler(tracker *mailtracker.Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// SetRedirectLimiter installs a middleware in front of both redirect routes.
func (h *Handler) SetRedirectLimiter(mw func(http.Handler) http.Handler) {
	h.redirectLimit = mw
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if h.redirectLimit != nil {
			r.Use(h.redirectLimit)
		}
		r.Get(mailtracker.RedirectPath+"/{linkId}/{hash}", h.HandleRedirect)
		r.Get(mailtracker.RedirectPath, h.HandleRedirect)
	})
	r.Get(mailtracker.BeaconPath+"/{hash}", h.HandleBeacon)
	r.Post(mailtracker.WebhookPath, h.HandleWebhook)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleRedirect serves both redirect shapes: /redirect/{linkId}/{hash}
// and /redirect?l=<url>&h=<hash>.
func (h *Handler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	req := mailtracker.ClickRequest{
		LinkID:    chi.URLParam(r, "linkId"),
		Token:     chi.URLParam(r, "hash"),
		IPAddress: realIP(r),
		UserAgent: r.UserAgent(),
	}
	if req.LinkID == "" {
		q := r.URL.Query()
		req.URL = q.Get("l")
		req.Token = q.Get("h")
	}

	dest, err := h.tracker.ResolveClick(r.Context(), req)
	if err != nil {
		logger.Warn("tracking: unresolved redirect", "hash", req.Token, "link", req.LinkID, "error", err)
		httputil.Text(w, http.StatusInternalServerError, mailtracker.ErrBadURLLink.Error())
		return
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// HandleBeacon records an open and always answers with the pixel.
func (h *Handler) HandleBeacon(w http.ResponseWriter, r *http.Request) {
	h.tracker.RecordOpen(r.Context(), mailtracker.OpenRequest{
		Token:     chi.URLParam(r, "hash"),
		IPAddress: realIP(r),
		UserAgent: r.UserAgent(),
	})
	h.servePixel(w)
}

// HandleWebhook accepts SNS deliveries. The envelope is read from a field
// named "message" (form or JSON object) when present, otherwise from the raw
// body.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	payload, err := webhookPayload(r)
	if err != nil {
		httputil.Text(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	ack, err := h.tracker.HandleEnvelope(r.Context(), payload)
	switch {
	case errors.Is(err, mailtracker.ErrUnknownTopic):
		httputil.Text(w, http.StatusForbidden, mailtracker.ErrUnknownTopic.Error())
	case errors.Is(err, mailtracker.ErrUnsupportedEnvelopeType):
		logger.Warn("tracking: rejected webhook payload", "error", err)
		httputil.Text(w, http.StatusBadRequest, "unsupported notification")
	case err != nil:
		// HandleEnvelope acknowledges everything else; answer 200 so SNS
		// does not retry.
		logger.Error("tracking: webhook failed", "error", err)
		httputil.Text(w, http.StatusOK, mailtracker.AckNotificationProcessed)
	default:
		httputil.Text(w, http.StatusOK, ack)
	}
}

func webhookPayload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxWebhookBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return nil, err
		}
		if msg := r.PostForm.Get("message"); msg != "" {
			return []byte(msg), nil
		}
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return unwrapMessageField(body), nil
}

// unwrapMessageField returns the string in a top-level "message" member of a
// JSON object body that is not itself an envelope. Anything else is returned
// unchanged.
func unwrapMessageField(body []byte) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return body
	}
	if _, isEnvelope := fields["Type"]; isEnvelope {
		return body
	}
	raw, ok := fields["message"]
	if !ok {
		return body
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil || msg == "" {
		return body
	}
	return []byte(msg)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
