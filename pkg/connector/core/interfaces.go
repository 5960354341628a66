// Package core defines the contracts shared by the connector's sources,
// sinks, checkpoint stores and the run loop.
package core

import (
	"context"
	"time"

	gojson "github.com/goccy/go-json"
)

// Event is an opaque security event as returned by the remote API.
// The raw payload is carried unmodified from the fetcher to the sink.
type Event struct {
	Raw gojson.RawMessage
}

// NewEvent wraps a raw JSON payload.
func NewEvent(raw []byte) Event {
	return Event{Raw: gojson.RawMessage(raw)}
}

// Page is one response of a paginated feed.
type Page struct {
	// Events in the order the API returned them
	Events []Event
	// NextCursor identifies the next page; empty when the feed is exhausted
	NextCursor string
}

// HasNext reports whether the page carries a continuation cursor.
func (p Page) HasNext() bool {
	return p.NextCursor != ""
}

// Sink receives serialized event batches. Push either accepts the whole
// batch or returns an error; implementations must not retry internally.
type Sink interface {
	Name() string
	Push(ctx context.Context, batch []string) error
	Close(ctx context.Context) error
}

// WatermarkStore persists the last forwarded watermark across restarts.
type WatermarkStore interface {
	// Load returns the stored watermark, false when none was stored yet.
	Load(ctx context.Context) (time.Time, bool, error)
	// Save atomically replaces the stored watermark.
	Save(ctx context.Context, watermark time.Time) error
	// Clear removes the stored watermark.
	Clear(ctx context.Context) error
	Close() error
}
