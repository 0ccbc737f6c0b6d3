package exact

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(serverURL string) *Client {
	store := NewTokenStore(Config{RefreshToken: "NL001.abcdef", BaseURL: serverURL})
	store.current = Token{AccessToken: "access_123", ExpiresAt: time.Now().Add(time.Hour)}
	client := NewClient(store, "888888")
	client.BaseDelay = time.Millisecond
	client.MaxDelay = 5 * time.Millisecond
	return client
}

func TestExecuteRetriesServerErrorsFiveTimes(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Execute(context.Background(), http.MethodPost, "/purchaseorder/PurchaseOrders", nil, map[string]interface{}{"OrderNumber": 1})
	if err == nil {
		t.Fatal("expected a terminal error")
	}
	var retriable *RetriableError
	if !errors.As(err, &retriable) {
		t.Fatalf("expected RetriableError, got %T: %v", err, err)
	}
	if got := atomic.LoadInt32(&calls); got != MaxHTTPAttempts {
		t.Errorf("expected %d attempts, got %d", MaxHTTPAttempts, got)
	}
}

func TestExecuteDoesNotRetryNotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Execute(context.Background(), http.MethodGet, "/logistics/Items", nil, nil)
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %T: %v", err, err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected zero retries for 404, got %d attempts", got)
	}
}

func TestExecuteRecoversFromRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(singleEntryXML))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	body, err := client.Execute(context.Background(), http.MethodPost, "/purchaseorder/PurchaseOrders", nil, map[string]interface{}{"OrderNumber": 1})
	if err != nil {
		t.Fatalf("expected retry to recover from 429: %v", err)
	}
	if id, ok := DecodeEntryID(body, "PurchaseOrderID"); !ok || id == "" {
		t.Error("expected a decodable body after recovery")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestExecuteSurfacesDecodedErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<error xmlns="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"><code/><message xml:lang="en">Supplier is required</message></error>`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Execute(context.Background(), http.MethodPost, "/purchaseorder/PurchaseOrders", nil, map[string]interface{}{})
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %T", err)
	}
	if fatal.Message != "Supplier is required" {
		t.Errorf("expected decoded XML message, got %q", fatal.Message)
	}
}

// newAuthRetryClient builds a client whose token exchanges and API calls
// both land on the same test server, with a stale access token pre-seeded.
func newAuthRetryClient(serverURL string) *Client {
	store := NewTokenStore(Config{RefreshToken: "NL001.abcdef", ClientID: "c", ClientSecret: "s", BaseURL: serverURL})
	store.TokenURL = serverURL + "/token"
	store.current = Token{AccessToken: "access_stale", ExpiresAt: time.Now().Add(time.Hour)}
	client := NewClient(store, "888888")
	client.BaseDelay = time.Millisecond
	client.MaxDelay = 5 * time.Millisecond
	return client
}

func TestExecuteRetriesWithFreshTokenAfterUnauthorized(t *testing.T) {
	var exchanges, apiCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&exchanges, 1)
		_, _ = w.Write([]byte(`{"access_token": "access_fresh", "expires_in": 600}`))
	})
	mux.HandleFunc("/888888/crm/Accounts", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		if r.Header.Get("Authorization") == "Bearer access_stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(singleEntryXML))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newAuthRetryClient(server.URL)
	if _, err := client.Execute(context.Background(), http.MethodGet, "/crm/Accounts", nil, nil); err != nil {
		t.Fatalf("expected the fresh-token retry to succeed: %v", err)
	}
	if got := atomic.LoadInt32(&exchanges); got != 1 {
		t.Errorf("expected 1 token exchange, got %d", got)
	}
	if got := atomic.LoadInt32(&apiCalls); got != 2 {
		t.Errorf("expected 2 api calls, got %d", got)
	}
}

func TestExecuteUnauthorizedOnFreshTokenIsFatal(t *testing.T) {
	var apiCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "access_fresh", "expires_in": 600}`))
	})
	mux.HandleFunc("/888888/crm/Accounts", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newAuthRetryClient(server.URL)
	_, err := client.Execute(context.Background(), http.MethodGet, "/crm/Accounts", nil, nil)
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError after a rejected fresh token, got %T: %v", err, err)
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		t.Error("a per-request rejection must not surface as a credential failure")
	}
	if got := atomic.LoadInt32(&apiCalls); got != 2 {
		t.Errorf("expected exactly one fresh-token retry, got %d api calls", got)
	}
}

func TestExecuteAuthErrorWhenExchangeFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
	})
	mux.HandleFunc("/888888/crm/Accounts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newAuthRetryClient(server.URL)
	_, err := client.Execute(context.Background(), http.MethodGet, "/crm/Accounts", nil, nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError when the exchange itself fails, got %T: %v", err, err)
	}
}

func TestExecuteForbiddenIsFatal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("no access to the manufacturing module"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Execute(context.Background(), http.MethodGet, "/manufacturing/ShopOrders", nil, nil)
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError for 403, got %T: %v", err, err)
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		t.Error("a permission error must not surface as a credential failure")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected no retries for 403, got %d attempts", got)
	}
	if !client.Tokens.current.Valid() {
		t.Error("expected the cached token to survive a permission error")
	}
}

func TestExecuteAttachesAuthAndParams(t *testing.T) {
	var capturedAuth, capturedFilter, capturedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedFilter = r.URL.Query().Get("$filter")
		capturedPath = r.URL.Path
		_, _ = w.Write([]byte(singleEntryXML))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	params := url.Values{}
	params.Set("$filter", "Name eq 'Acme'")
	if _, err := client.Execute(context.Background(), http.MethodGet, "/crm/Accounts", params, nil); err != nil {
		t.Fatal(err)
	}
	if capturedAuth != "Bearer access_123" {
		t.Errorf("expected bearer header, got %q", capturedAuth)
	}
	if capturedFilter != "Name eq 'Acme'" {
		t.Errorf("expected filter param, got %q", capturedFilter)
	}
	if capturedPath != "/888888/crm/Accounts" {
		t.Errorf("expected division in path, got %q", capturedPath)
	}
}
