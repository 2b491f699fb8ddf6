// Package broadcast fans enriched readings out to live subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
)

// EventNewData is the default topic for freshly ingested readings
const EventNewData = "new_data"

// Broadcaster publishes a payload under a topic. Delivery is best effort.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Event is the wire envelope sent to subscribers
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Encode renders the envelope for topic and payload
func Encode(topic string, payload interface{}) ([]byte, error) {
	return json.Marshal(Event{Event: topic, Data: payload})
}

// Nop discards every message
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) error { return nil }

// Multi publishes to every broadcaster and joins their errors
type Multi []Broadcaster

func (m Multi) Publish(ctx context.Context, topic string, payload interface{}) error {
	var errs []error
	for _, b := range m {
		if err := b.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
