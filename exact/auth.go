package exact

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	gosync "sync"
	"time"

	"github.com/carlmjohnson/requests"
)

// expirySkew is subtracted from the reported token lifetime so a token
// is refreshed before the remote side considers it expired.
const expirySkew = 30 * time.Second

// Token is the access/refresh token pair for one Exact Online division.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (t Token) Valid() bool {
	return t.AccessToken != "" && time.Now().Before(t.ExpiresAt)
}

// TokenStore exchanges a refresh token for an access token against the
// region-specific OAuth endpoint and caches the result until it expires.
// It is shared mutably by all workers; refresh is guarded so concurrent
// expired-token detections trigger exactly one exchange call, with the
// other callers waiting on its result.
type TokenStore struct {
	config Config

	// TokenURL overrides the derived OAuth endpoint (used by tests).
	TokenURL string

	// OnTokenRotated is called with the new refresh token whenever the
	// exchange endpoint rotates it. The config collaborator subscribes
	// here to persist the rotated token.
	OnTokenRotated func(newRefreshToken string)

	mu      gosync.Mutex
	current Token
}

func NewTokenStore(config Config) *TokenStore {
	return &TokenStore{config: config}
}

// Environment returns the regional marker for the Exact Online host.
// The first dot-segment of the refresh token carries the region; an
// explicit config value wins over the token-derived one.
func (s *TokenStore) Environment() string {
	if s.config.Environment != "" {
		return s.config.Environment
	}
	marker, _, _ := strings.Cut(s.config.RefreshToken, ".")
	switch {
	case strings.Contains(marker, "NL"):
		return "nl"
	case strings.Contains(marker, "UK"):
		return "co.uk"
	default:
		return "com"
	}
}

// BaseURL returns the resolved regional API base, without the division.
func (s *TokenStore) BaseURL() string {
	if s.config.BaseURL != "" {
		return s.config.BaseURL
	}
	return fmt.Sprintf("https://start.exactonline.%s/api/v1", s.Environment())
}

func (s *TokenStore) tokenURL() string {
	if s.TokenURL != "" {
		return s.TokenURL
	}
	return fmt.Sprintf("https://start.exactonline.%s/api/oauth2/token", s.Environment())
}

// AuthHeaders returns the headers to attach to an authenticated request,
// refreshing the cached token first when needed.
func (s *TokenStore) AuthHeaders(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current.Valid() {
		if err := s.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	return map[string]string{"Authorization": "Bearer " + s.current.AccessToken}, nil
}

// Invalidate drops the cached access token so the next AuthHeaders call
// performs a fresh exchange. Called by the client after a 401.
func (s *TokenStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = Token{}
}

func (s *TokenStore) refreshLocked(ctx context.Context) error {
	refreshToken := s.current.RefreshToken
	if refreshToken == "" {
		refreshToken = s.config.RefreshToken
	}
	if refreshToken == "" {
		return &AuthError{Message: "no refresh token configured"}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", s.config.ClientID)
	form.Set("client_secret", s.config.ClientSecret)

	var exchanged struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	exchangeError := map[string]interface{}{}
	err := requests.
		URL(s.tokenURL()).
		Client(&http.Client{Timeout: HTTPRequestTimeout}).
		BodyForm(form).
		ToJSON(&exchanged).
		ErrorJSON(&exchangeError).
		Fetch(ctx)
	if err != nil {
		log.Printf("Exact token exchange error: %+v", exchangeError)
		return &AuthError{Message: fmt.Sprintf("token exchange failed: %v", err)}
	}
	if exchanged.AccessToken == "" {
		return &AuthError{Message: "token exchange returned no access token"}
	}

	expiresIn := time.Duration(exchanged.ExpiresIn) * time.Second
	if expiresIn <= expirySkew {
		expiresIn = 10 * time.Minute
	}
	s.current = Token{
		AccessToken:  exchanged.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(expiresIn - expirySkew),
	}

	if exchanged.RefreshToken != "" && exchanged.RefreshToken != refreshToken {
		s.current.RefreshToken = exchanged.RefreshToken
		if s.OnTokenRotated != nil {
			s.OnTokenRotated(exchanged.RefreshToken)
		}
	}
	return nil
}
