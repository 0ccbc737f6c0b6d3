package exact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/carlmjohnson/requests"
)

const (
	// MaxHTTPAttempts bounds the retry loop: a request that keeps failing
	// retriably is attempted this many times in total before the last
	// error is surfaced to the caller.
	MaxHTTPAttempts = 5

	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 8 * time.Second

	logBodyLimit = 512
)

// Client issues requests against the Exact Online API for one division.
// It injects auth headers from the shared TokenStore, retries 429/5xx and
// network timeouts with exponential backoff, and classifies everything
// else as FatalError. A 401 drops the cached token and retries once with
// a freshly exchanged one; only the exchange itself failing surfaces an
// AuthError.
type Client struct {
	Tokens   *TokenStore
	Division string

	// HTTPClient overrides the default client (used by tests).
	HTTPClient *http.Client

	// BaseDelay and MaxDelay tune the backoff; zero values select the
	// defaults above.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func NewClient(tokens *TokenStore, division string) *Client {
	return &Client{Tokens: tokens, Division: division}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: HTTPRequestTimeout}
}

// Execute sends one request to {base_url}/{division}{endpoint} and returns
// the raw response body. The endpoint is built fresh per call; shared
// state is never mutated to select a division.
func (c *Client) Execute(ctx context.Context, method string, endpoint string, params url.Values, body interface{}) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < MaxHTTPAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, c.retryDelay(attempt)); err != nil {
				return nil, err
			}
		}

		respBody, err := c.sendAuthed(ctx, method, endpoint, params, body)
		if err == nil {
			return respBody, nil
		}

		var retriable *RetriableError
		if !errors.As(err, &retriable) {
			return nil, err
		}
		log.Printf("Exact %s %s attempt %d/%d failed: %v", method, endpoint, attempt+1, MaxHTTPAttempts, err)
		lastErr = err
	}
	return nil, lastErr
}

// sendAuthed sends the request and, when the cached access token is
// rejected, exchanges a fresh one and retries exactly once. A second
// rejection means the endpoint denies this (valid) token, which is
// terminal for the record, not the credential.
func (c *Client) sendAuthed(ctx context.Context, method string, endpoint string, params url.Values, body interface{}) ([]byte, error) {
	respBody, err := c.send(ctx, method, endpoint, params, body)
	var rejected *tokenRejectedError
	if !errors.As(err, &rejected) {
		return respBody, err
	}

	log.Printf("Exact %s %s rejected the cached token, retrying with a fresh exchange", method, endpoint)
	respBody, err = c.send(ctx, method, endpoint, params, body)
	if errors.As(err, &rejected) {
		return nil, &FatalError{Status: http.StatusUnauthorized, Message: rejected.Message}
	}
	return respBody, err
}

func (c *Client) send(ctx context.Context, method string, endpoint string, params url.Values, body interface{}) ([]byte, error) {
	headers, err := c.Tokens.AuthHeaders(ctx)
	if err != nil {
		return nil, err
	}

	builder := requests.
		URL(c.Tokens.BaseURL() + "/" + c.Division + endpoint).
		Method(method).
		Client(c.httpClient()).
		AddValidator(nil)
	for key, values := range params {
		builder = builder.Param(key, values...)
	}
	for key, value := range headers {
		builder = builder.Header(key, value)
	}
	if body != nil {
		builder = builder.BodyJSON(body)
	}

	var status int
	var respBody []byte
	err = builder.
		Handle(func(response *http.Response) error {
			status = response.StatusCode
			b, readErr := io.ReadAll(response.Body)
			if readErr != nil {
				return readErr
			}
			respBody = b
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		// Network-level failures (read timeouts included) are retried
		// under the same policy as 5xx.
		return nil, &RetriableError{Message: err.Error()}
	}

	log.Printf("Exact %s %s status=%d body=%s", method, endpoint, status, truncate(respBody, logBodyLimit))

	if status >= 200 && status <= 299 {
		return respBody, nil
	}

	envelope := DecodeError(status, respBody)
	switch envelope.Kind {
	case ErrorKindRetriable:
		return nil, &RetriableError{Status: status, Message: envelope.Message}
	case ErrorKindAuth:
		// Drop the cached token; sendAuthed decides whether to retry
		// with a fresh exchange or give up on the record.
		c.Tokens.Invalidate()
		return nil, &tokenRejectedError{Message: envelope.Message}
	default:
		return nil, &FatalError{Status: status, Message: envelope.Message}
	}
}

// tokenRejectedError is the internal marker for a 401 on the cached
// access token. It never escapes Execute: it either resolves through a
// fresh exchange or becomes a FatalError for the record.
type tokenRejectedError struct {
	Message string
}

func (e *tokenRejectedError) Error() string {
	return fmt.Sprintf("access token rejected: %s", e.Message)
}

func (c *Client) retryDelay(attempt int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	max := c.MaxDelay
	if max <= 0 {
		max = defaultMaxDelay
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
