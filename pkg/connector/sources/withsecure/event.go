package withsecure

import (
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

// TimestampField is the event attribute that drives the watermark.
const TimestampField = "serverTimestampStart"

type eventTimestamp struct {
	ServerTimestampStart *string `json:"serverTimestampStart"`
}

// EventTimestamp returns the event's serverTimestampStart in UTC.
func EventTimestamp(event core.Event) (time.Time, error) {
	var ts eventTimestamp
	if err := gojson.Unmarshal(event.Raw, &ts); err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeValidation, "event is not a JSON object")
	}
	if ts.ServerTimestampStart == nil {
		return time.Time{}, errors.New(errors.ErrorTypeValidation, "event has no "+TimestampField)
	}

	t, err := core.ParseTimestamp(*ts.ServerTimestampStart)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid "+TimestampField).
			WithDetail("value", *ts.ServerTimestampStart)
	}
	return t, nil
}
