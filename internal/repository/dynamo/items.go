package dynamo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/mail-tracker/internal/domain"
)

type messageItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	ID          string `dynamodbav:"id"`
	Hash        string `dynamodbav:"hash"`
	MessageID   string `dynamodbav:"message_id,omitempty"`
	Sender      string `dynamodbav:"sender"`
	Recipient   string `dynamodbav:"recipient"`
	Subject     string `dynamodbav:"subject"`
	Content     string `dynamodbav:"content,omitempty"`
	ContentPath string `dynamodbav:"content_path,omitempty"`
	Headers     string `dynamodbav:"headers"`
	Opens       int64  `dynamodbav:"opens"`
	Clicks      int64  `dynamodbav:"clicks"`
	Meta        string `dynamodbav:"meta"`
	MetaVersion int64  `dynamodbav:"meta_version"`
	CreatedAt   string `dynamodbav:"created_at"`
	CreatedUnix int64  `dynamodbav:"created_unix"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

type linkItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	ID            string `dynamodbav:"id"`
	SentMessageID string `dynamodbav:"sent_message_id"`
	LinkHash      string `dynamodbav:"link_hash"`
	URL           string `dynamodbav:"url"`
	Clicks        int64  `dynamodbav:"clicks"`
	CreatedAt     string `dynamodbav:"created_at"`
	UpdatedAt     string `dynamodbav:"updated_at"`
}

func newMessageItem(m *domain.SentMessage) (messageItem, error) {
	headers := m.Headers
	if headers == nil {
		headers = domain.Headers{}
	}
	h, err := json.Marshal(headers)
	if err != nil {
		return messageItem{}, fmt.Errorf("encode headers: %w", err)
	}
	meta := m.Meta
	if meta == nil {
		meta = domain.Meta{}
	}
	mb, err := json.Marshal(meta)
	if err != nil {
		return messageItem{}, fmt.Errorf("encode meta: %w", err)
	}
	return messageItem{
		PK:          messagePK(m.Hash),
		SK:          messageSK,
		ID:          m.ID,
		Hash:        m.Hash,
		MessageID:   m.TransportID(),
		Sender:      m.Sender,
		Recipient:   m.Recipient,
		Subject:     m.Subject,
		Content:     m.Content,
		ContentPath: m.ContentPath,
		Headers:     string(h),
		Opens:       m.Opens,
		Clicks:      m.Clicks,
		Meta:        string(mb),
		CreatedAt:   formatTime(m.CreatedAt),
		CreatedUnix: m.CreatedAt.Unix(),
		UpdatedAt:   formatTime(m.UpdatedAt),
	}, nil
}

func (it messageItem) toDomain() (*domain.SentMessage, error) {
	m := &domain.SentMessage{
		ID:          it.ID,
		Hash:        it.Hash,
		Sender:      it.Sender,
		Recipient:   it.Recipient,
		Subject:     it.Subject,
		Content:     it.Content,
		ContentPath: it.ContentPath,
		Opens:       it.Opens,
		Clicks:      it.Clicks,
		CreatedAt:   parseTime(it.CreatedAt),
		UpdatedAt:   parseTime(it.UpdatedAt),
		Meta:        domain.Meta{},
	}
	if it.MessageID != "" {
		id := it.MessageID
		m.MessageID = &id
	}
	if it.Headers != "" {
		if err := json.Unmarshal([]byte(it.Headers), &m.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	if it.Meta != "" {
		if err := json.Unmarshal([]byte(it.Meta), &m.Meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
	}
	return m, nil
}

func (it linkItem) toDomain() domain.TrackedLink {
	return domain.TrackedLink{
		ID:            it.ID,
		SentMessageID: it.SentMessageID,
		Hash:          it.LinkHash,
		URL:           it.URL,
		Clicks:        it.Clicks,
		CreatedAt:     parseTime(it.CreatedAt),
		UpdatedAt:     parseTime(it.UpdatedAt),
	}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
