// Package events publishes and consumes the raw-record change feed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ChangeKind tells whether a raw record was created or its content replaced.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeUpdated  ChangeKind = "updated"
)

// Change announces one committed raw record version.
type Change struct {
	SupplierID  string     `json:"supplier_id"`
	ExternalID  string     `json:"external_id"`
	ContentHash string     `json:"content_hash"`
	Kind        ChangeKind `json:"change"`
	CollectedAt time.Time  `json:"collected_at"`
}

// Key is the message key; it keeps one record's changes on one partition.
func (c Change) Key() string {
	return c.SupplierID + "/" + c.ExternalID
}

// Encode renders a change as a Kafka message.
func Encode(c Change) (kafka.Message, error) {
	value, err := json.Marshal(c)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(c.Key()), Value: value}, nil
}

// Decode parses a message produced by Encode.
func Decode(msg kafka.Message) (Change, error) {
	var c Change
	if err := json.Unmarshal(msg.Value, &c); err != nil {
		return Change{}, fmt.Errorf("decode change at offset %d: %w", msg.Offset, err)
	}
	if c.SupplierID == "" || c.ExternalID == "" {
		return Change{}, fmt.Errorf("decode change at offset %d: missing supplier or external id", msg.Offset)
	}
	return c, nil
}

// Publisher sends changes to the feed.
type Publisher interface {
	Publish(ctx context.Context, changes []Change) error
	Close() error
}

// NopPublisher drops every change. It is used when the feed is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []Change) error { return nil }
func (NopPublisher) Close() error                            { return nil }
