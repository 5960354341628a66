package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	gojson "github.com/goccy/go-json"
)

const (
	// FakeToken is the bearer token issued by FakeAPI.
	FakeToken = "fake-access-token"

	fakeTokenPath  = "/as/token.oauth2"
	fakeEventsPath = "/security-events/v1/security-events"
)

// FakePage is one scripted response of the security-events endpoint.
type FakePage struct {
	Items []string
	// NextAnchor is omitted from the response when empty
	NextAnchor string
	// Status defaults to 200
	Status int
}

// FakeAPI serves the OAuth2 token endpoint and the security-events
// endpoint. Pages are keyed by the anchor they answer; "" is the first page.
// An unknown anchor gets an empty page without a cursor.
type FakeAPI struct {
	server *httptest.Server

	mu            sync.Mutex
	pages         map[string]FakePage
	requests      []url.Values
	tokenRequests int
}

// NewFakeAPI starts the fake API; it is closed with the test.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	f := &FakeAPI{pages: make(map[string]FakePage)}

	mux := http.NewServeMux()
	mux.HandleFunc(fakeTokenPath, f.handleToken)
	mux.HandleFunc(fakeEventsPath, f.handleEvents)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// URL is the API base URL.
func (f *FakeAPI) URL() string { return f.server.URL }

// TokenURL is the OAuth2 token endpoint.
func (f *FakeAPI) TokenURL() string { return f.server.URL + fakeTokenPath }

// SetPage scripts the response for anchor.
func (f *FakeAPI) SetPage(anchor string, page FakePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[anchor] = page
}

// Requests returns the query of every events request so far.
func (f *FakeAPI) Requests() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.requests...)
}

// TokenRequests returns how many tokens were issued.
func (f *FakeAPI) TokenRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenRequests
}

func (f *FakeAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f.mu.Lock()
	f.tokenRequests++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"access_token":"`+FakeToken+`","token_type":"Bearer","expires_in":3600}`)
}

func (f *FakeAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+FakeToken {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"errorCode":"unauthorized","message":"missing token"}`)
		return
	}

	query := r.URL.Query()
	f.mu.Lock()
	f.requests = append(f.requests, query)
	page, ok := f.pages[query.Get("anchor")]
	f.mu.Unlock()

	if ok && page.Status != 0 && page.Status != http.StatusOK {
		w.WriteHeader(page.Status)
		return
	}

	body := map[string]any{"items": rawItems(page.Items)}
	if ok && page.NextAnchor != "" {
		body["nextAnchor"] = page.NextAnchor
	}
	raw, err := gojson.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func rawItems(items []string) []gojson.RawMessage {
	out := make([]gojson.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, gojson.RawMessage(strings.TrimSpace(item)))
	}
	return out
}
