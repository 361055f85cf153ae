// Package events delivers tracker events to downstream consumers: in-process
// callbacks, an SQS queue, a Redis channel or an AMQP exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// Func adapts a plain function to mailtracker.Dispatcher.
type Func func(ctx context.Context, evt domain.Event)

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, evt domain.Event) { f(ctx, evt) }

// Multi fans one event out to every dispatcher in order.
type Multi []mailtracker.Dispatcher

// Dispatch forwards evt to each dispatcher.
func (m Multi) Dispatch(ctx context.Context, evt domain.Event) {
	for _, d := range m {
		if d != nil {
			d.Dispatch(ctx, evt)
		}
	}
}

// Only forwards events of the listed types to d and drops the rest.
func Only(d mailtracker.Dispatcher, types ...domain.EventType) mailtracker.Dispatcher {
	allowed := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return Func(func(ctx context.Context, evt domain.Event) {
		if allowed[evt.Type] {
			d.Dispatch(ctx, evt)
		}
	})
}

func encode(evt domain.Event) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}
	return body, nil
}
