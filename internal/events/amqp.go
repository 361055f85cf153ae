package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
)

// AMQPChannel is the subset of *amqp.Channel used by AMQPPublisher.
type AMQPChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes events to an exchange, routed by event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       AMQPChannel
	exchange string
	closeFn  func() error
}

// NewAMQPPublisher wraps an open channel.
func NewAMQPPublisher(ch AMQPChannel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange}
}

// DialAMQP connects to url, declares exchange as a durable topic exchange
// and returns a publisher for it. With an empty exchange, events go to the
// default exchange routed by type, so consumers declare queues named after
// the event types.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}

	p := NewAMQPPublisher(ch, exchange)
	p.closeFn = func() error {
		ch.Close()
		return conn.Close()
	}
	return p, nil
}

// Dispatch publishes evt with its type as routing key.
func (p *AMQPPublisher) Dispatch(_ context.Context, evt domain.Event) {
	body, err := encode(evt)
	if err != nil {
		logger.Error("events: amqp publish skipped", "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(p.exchange, string(evt.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(evt.Type),
		Body:         body,
	})
	if err != nil {
		logger.Error("events: publishing to amqp failed", "exchange", p.exchange, "type", string(evt.Type), "error", err)
	}
}

// Close closes the connection opened by DialAMQP.
func (p *AMQPPublisher) Close() error {
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn()
}
