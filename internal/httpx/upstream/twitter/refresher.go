package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	credential "github.com/vadim/neo-publisher/internal/domain/credential/entity"
	"github.com/vadim/neo-publisher/internal/httpx/upstream"
)

const defaultTokenURL = "https://api.x.com/2/oauth2/token"

// RefresherConfig holds the OAuth 2.0 app credentials
type RefresherConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
	// Transport routes token requests through the platform breaker; it takes precedence over HTTPClient
	Transport *upstream.Client
}

// Refresher renews Twitter access tokens with the refresh-token grant
type Refresher struct {
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewRefresher creates a new Twitter credential refresher
func NewRefresher(cfg RefresherConfig) *Refresher {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	httpClient := cfg.HTTPClient
	if cfg.Transport != nil {
		httpClient = &http.Client{Transport: cfg.Transport}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Refresher{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient: httpClient,
	}
}

// Refresh exchanges the account's refresh token for a new credential.
// The previous refresh token is kept when the response carries none.
func (r *Refresher) Refresh(ctx context.Context, acc credential.AccountCredential) (*credential.AccountCredential, error) {
	if !acc.CanRefresh() {
		return nil, fmt.Errorf("%w: no refresh token", credential.ErrRefreshInvalid)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	// An expired token forces the source to hit the token endpoint
	stale := &oauth2.Token{
		AccessToken:  acc.AccessToken,
		RefreshToken: acc.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Minute),
	}

	tok, err := r.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	updated := acc
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		updated.ExpiresAt = &exp
	}

	return &updated, nil
}

func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", credential.ErrRefreshInvalid, err)
		}
	}
	return fmt.Errorf("%w: %v", credential.ErrRefreshTransient, err)
}
