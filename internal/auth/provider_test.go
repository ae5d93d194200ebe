package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/studentportal/internal/model"
)

func newTestProvider(t *testing.T, tokenEndpoint, userEndpoint string) *Provider {
	t.Helper()
	return NewProvider(ProviderConfig{
		AuthorizationEndpoint: "https://sso.example.com/oauth/authorize",
		TokenEndpoint:         tokenEndpoint,
		UserEndpoint:          userEndpoint,
		ClientID:              "portal-client",
		ClientSecret:          "portal-secret",
		RedirectURI:           "https://portal.example.com/api/oauth2/callback",
	}, nil)
}

// TestProvider_LoginURL は認可URLのクエリパラメーターを検証する。
func TestProvider_LoginURL(t *testing.T) {
	p := newTestProvider(t, "https://sso.example.com/oauth/token", "https://sso.example.com/oauth/userinfo")

	loginURL := p.LoginURL("state-abc")

	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("failed to parse login URL: %v", err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "portal-client" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("redirect_uri") != "https://portal.example.com/api/oauth2/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("state") != "state-abc" {
		t.Errorf("state = %q", q.Get("state"))
	}
}

// TestProvider_Exchange_Success はコード交換とユーザー情報取得の
// 一連のフローでIdentityが構築されることを検証する。
func TestProvider_Exchange_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm failed: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostFormValue("code"); got != "auth-code-123" {
			t.Errorf("code = %q", got)
		}
		if got := r.PostFormValue("client_secret"); got != "portal-secret" {
			t.Errorf("client_secret = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "provider-access-token",
			"token_type":   "Bearer",
			"expires_in":   600,
		})
	})
	mux.HandleFunc("/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer provider-access-token" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":          42,
			"username":    "alice",
			"trust_level": 4,
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := newTestProvider(t, ts.URL+"/oauth/token", ts.URL+"/oauth/userinfo")

	identity, err := p.Exchange(context.Background(), "auth-code-123")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if identity.ExternalID != "42" {
		t.Errorf("ExternalID = %q, want 42", identity.ExternalID)
	}
	if identity.LoginName != "alice" {
		t.Errorf("LoginName = %q, want alice", identity.LoginName)
	}
	if identity.TrustLevel != 4 {
		t.Errorf("TrustLevel = %d, want 4", identity.TrustLevel)
	}
}

// TestProvider_Exchange_StringID はidを文字列で返すプロバイダーでも
// Identityが構築されることを検証する。
func TestProvider_Exchange_StringID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok"})
	})
	mux.HandleFunc("/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"u-42","username":"alice","trust_level":3}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := newTestProvider(t, ts.URL+"/oauth/token", ts.URL+"/oauth/userinfo")

	identity, err := p.Exchange(context.Background(), "code")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if identity.ExternalID != "u-42" {
		t.Errorf("ExternalID = %q, want u-42", identity.ExternalID)
	}
}

// TestProvider_Exchange_TokenEndpointError はトークン交換失敗が
// UPSTREAM_AUTH_ERRORになり、ユーザー情報取得に進まないことを検証する。
func TestProvider_Exchange_TokenEndpointError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	mux.HandleFunc("/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		t.Error("userinfo must not be called when token exchange fails")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := newTestProvider(t, ts.URL+"/oauth/token", ts.URL+"/oauth/userinfo")

	_, err := p.Exchange(context.Background(), "bad-code")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUpstreamAuth {
		t.Fatalf("expected UPSTREAM_AUTH_ERROR, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", apiErr.Status)
	}
}

// TestProvider_Exchange_UserInfoError はユーザー情報取得の失敗が
// UPSTREAM_AUTH_ERRORになることを検証する。
func TestProvider_Exchange_UserInfoError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok"})
	})
	mux.HandleFunc("/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_token"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := newTestProvider(t, ts.URL+"/oauth/token", ts.URL+"/oauth/userinfo")

	_, err := p.Exchange(context.Background(), "code")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUpstreamAuth {
		t.Fatalf("expected UPSTREAM_AUTH_ERROR, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", apiErr.Status)
	}
}

// TestProvider_Exchange_Timeout_Transient はトークン交換・ユーザー情報取得の
// タイムアウトが一時的失敗としてマークされたUPSTREAM_AUTH_ERRORになることを検証する。
func TestProvider_Exchange_Timeout_Transient(t *testing.T) {
	cases := []struct {
		name         string
		slowToken    bool
		slowUserInfo bool
	}{
		{"token endpoint timeout", true, false},
		{"userinfo endpoint timeout", false, true},
	}

	for _, tc := range cases {
		mux := http.NewServeMux()
		mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
			if tc.slowToken {
				time.Sleep(200 * time.Millisecond)
			}
			json.NewEncoder(w).Encode(map[string]any{"access_token": "tok"})
		})
		mux.HandleFunc("/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
			if tc.slowUserInfo {
				time.Sleep(200 * time.Millisecond)
			}
			w.Write([]byte(`{"id":1,"username":"alice","trust_level":3}`))
		})
		ts := httptest.NewServer(mux)

		p := NewProvider(ProviderConfig{
			TokenEndpoint: ts.URL + "/oauth/token",
			UserEndpoint:  ts.URL + "/oauth/userinfo",
			ClientID:      "portal-client",
			ClientSecret:  "portal-secret",
			RedirectURI:   "https://portal.example.com/api/oauth2/callback",
		}, &http.Client{Timeout: 20 * time.Millisecond})

		_, err := p.Exchange(context.Background(), "code")
		ts.Close()

		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUpstreamAuth {
			t.Fatalf("%s: expected UPSTREAM_AUTH_ERROR, got %v", tc.name, err)
		}
		if !apiErr.Transient {
			t.Errorf("%s: timeout must be marked as transient", tc.name)
		}
	}
}

// TestProvider_Exchange_EmptyUsername は空のusernameをエラーとして扱うことを検証する。
func TestProvider_Exchange_EmptyUsername(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok"})
	})
	mux.HandleFunc("/oauth/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"username":"","trust_level":3}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	p := newTestProvider(t, ts.URL+"/oauth/token", ts.URL+"/oauth/userinfo")

	if _, err := p.Exchange(context.Background(), "code"); err == nil {
		t.Error("expected error for empty username")
	}
}
