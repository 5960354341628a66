package pipeline

import "fmt"

// SerializationError reports an event that could not be encoded for the sink.
// The event is dropped; the rest of its page is still forwarded.
type SerializationError struct {
	// Index of the event within its page
	Index int
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize event %d: %v", e.Index, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// DownstreamPushError reports a batch the sink did not accept. The cycle
// that produced it ends without persisting its watermark.
type DownstreamPushError struct {
	Sink   string
	Events int
	Err    error
}

func (e *DownstreamPushError) Error() string {
	return fmt.Sprintf("failed to push %d events to %s: %v", e.Events, e.Sink, e.Err)
}

func (e *DownstreamPushError) Unwrap() error {
	return e.Err
}
