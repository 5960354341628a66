// Package checkpoint persists the connector's watermark across restarts.
//
// The watermark lives in a small JSON document:
//
//	{"most_recent_date_seen": "2024-01-01T00:00:04Z"}
//
// Every Load/Save is one scoped transaction over that document: it is
// acquired, read or mutated, written and released before the call returns,
// on every exit path. Other keys of the document are preserved.
package checkpoint

import (
	stderrors "errors"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

// WatermarkKey is the document key holding the watermark.
const WatermarkKey = "most_recent_date_seen"

// ErrCorrupt reports a checkpoint document that cannot be parsed.
// It is never repaired automatically.
var ErrCorrupt = stderrors.New("checkpoint document is corrupt")

// Document is the persisted checkpoint record.
type Document map[string]gojson.RawMessage

// ParseDocument decodes a stored document. Empty input is an empty document.
// A document whose watermark cannot be read is corrupt as a whole.
func ParseDocument(data []byte) (Document, error) {
	doc := Document{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := gojson.Unmarshal(data, &doc); err != nil {
		return nil, corrupt(err, "document is not a JSON object")
	}
	if doc == nil {
		// the literal null
		doc = Document{}
	}
	if _, _, err := doc.Watermark(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Watermark returns the stored watermark, false if the key is absent or null.
func (d Document) Watermark() (time.Time, bool, error) {
	raw, ok := d[WatermarkKey]
	if !ok {
		return time.Time{}, false, nil
	}

	var value *string
	if err := gojson.Unmarshal(raw, &value); err != nil {
		return time.Time{}, false, corrupt(err, "watermark is not a string")
	}
	if value == nil {
		return time.Time{}, false, nil
	}

	t, err := core.ParseTimestamp(*value)
	if err != nil {
		return time.Time{}, false, corrupt(err, "watermark is not an ISO-8601 timestamp")
	}
	return t, true, nil
}

// SetWatermark stores t at second precision in UTC.
func (d Document) SetWatermark(t time.Time) error {
	raw, err := gojson.Marshal(core.FormatWatermark(t))
	if err != nil {
		return err
	}
	d[WatermarkKey] = raw
	return nil
}

// ClearWatermark removes the watermark key.
func (d Document) ClearWatermark() {
	delete(d, WatermarkKey)
}

// Marshal encodes the document.
func (d Document) Marshal() ([]byte, error) {
	return gojson.Marshal(map[string]gojson.RawMessage(d))
}

func corrupt(cause error, message string) error {
	return errors.Wrap(stderrors.Join(ErrCorrupt, cause), errors.ErrorTypeCheckpoint, message)
}

// IsCorrupt reports whether err stems from an unparseable checkpoint.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
