package clients

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

// OAuth2Config configures the client-credentials grant.
type OAuth2Config struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

// Validate checks that the grant can be attempted.
func (c *OAuth2Config) Validate() error {
	if c.ClientID == "" {
		return errors.New(errors.ErrorTypeConfig, "oauth2 client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.New(errors.ErrorTypeConfig, "oauth2 client secret is required")
	}
	if c.TokenURL == "" {
		return errors.New(errors.ErrorTypeConfig, "oauth2 token_url is required")
	}
	return nil
}

// newOAuth2Transport wraps base so every request carries a bearer token.
// Tokens are cached and renewed shortly before expiry by oauth2.ReuseTokenSource.
func newOAuth2Transport(config *OAuth2Config, base http.RoundTripper, timeout time.Duration) (*oauth2.Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cc := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     config.TokenURL,
		Scopes:       config.Scopes,
	}

	// Token requests share the transport but never the caller's cancellation.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Transport: base,
		Timeout:   timeout,
	})

	return &oauth2.Transport{
		Source: oauth2.ReuseTokenSource(nil, cc.TokenSource(tokenCtx)),
		Base:   base,
	}, nil
}
