package withsecure

import (
	"fmt"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

// FetchEventsError reports a non-2xx response from the security-events API.
type FetchEventsError struct {
	Status int
	Reason string
	// Code and Summary come from the response body when it carries them
	Code    string
	Summary string
}

func (e *FetchEventsError) Error() string {
	message := fmt.Sprintf("Request on WithSecure API to fetch events failed with status %d - %s", e.Status, e.Reason)
	if e.Code != "" || e.Summary != "" {
		message = fmt.Sprintf("%s: %s - %s", message, e.Code, e.Summary)
	}
	return message
}

type apiError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorSummary string `json:"errorSummary"`
}

// newFetchEventsError builds the error for a failed response, enriched with
// the API's error code and summary when the body parses.
func newFetchEventsError(status int, reason string, body []byte) error {
	fe := &FetchEventsError{Status: status, Reason: reason}

	var detail apiError
	if err := gojson.Unmarshal(body, &detail); err == nil {
		fe.Code = detail.ErrorCode
		fe.Summary = detail.ErrorSummary
	}

	return errors.Wrap(fe, errors.ErrorTypeFetch, "failed to fetch security events").
		WithDetail("status", status)
}

// AsFetchEventsError extracts the API failure from err's chain.
func AsFetchEventsError(err error) (*FetchEventsError, bool) {
	var fe *FetchEventsError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
