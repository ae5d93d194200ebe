package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/studentportal/internal/model"
)

// recordingCollector はメトリクス呼び出しを記録するテスト用コレクター。
type recordingCollector struct {
	mu             sync.Mutex
	loginOutcomes  []string
	refreshResults []string
	directoryCalls []string // "op:outcome" 形式
}

func (c *recordingCollector) RecordLogin(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loginOutcomes = append(c.loginOutcomes, outcome)
}

func (c *recordingCollector) RecordTokenRefresh(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshResults = append(c.refreshResults, outcome)
}

func (c *recordingCollector) RecordDirectoryCall(op, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.directoryCalls = append(c.directoryCalls, op+":"+outcome)
}

func (c *recordingCollector) RecordDirectoryLatency(op string, duration time.Duration) {}

func newTestBroker(t *testing.T, tokenURL string) (*Broker, *recordingCollector) {
	t.Helper()
	collector := &recordingCollector{}
	broker := NewBroker(BrokerConfig{
		TokenURL:     tokenURL,
		ClientID:     "directory-client",
		ClientSecret: "directory-secret",
		RefreshToken: "long-lived-refresh-token",
	}, nil, collector)
	return broker, collector
}

// TestBroker_Token_RefreshGrant はリフレッシュトークングラントの
// リクエスト形式を検証する。
func TestBroker_Token_RefreshGrant(t *testing.T) {
	var gotForm map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm failed: %v", err)
		}
		gotForm = map[string]string{
			"client_id":     r.PostFormValue("client_id"),
			"client_secret": r.PostFormValue("client_secret"),
			"refresh_token": r.PostFormValue("refresh_token"),
			"grant_type":    r.PostFormValue("grant_type"),
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-access-token",
			"expires_in":   3600,
		})
	}))
	defer ts.Close()

	broker, collector := newTestBroker(t, ts.URL)

	token, err := broker.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "fresh-access-token" {
		t.Errorf("token = %q, want %q", token, "fresh-access-token")
	}
	if gotForm["grant_type"] != "refresh_token" {
		t.Errorf("grant_type = %q, want refresh_token", gotForm["grant_type"])
	}
	if gotForm["client_id"] != "directory-client" || gotForm["client_secret"] != "directory-secret" {
		t.Errorf("credentials = (%q, %q)", gotForm["client_id"], gotForm["client_secret"])
	}
	if gotForm["refresh_token"] != "long-lived-refresh-token" {
		t.Errorf("refresh_token = %q", gotForm["refresh_token"])
	}
	if len(collector.refreshResults) != 1 || collector.refreshResults[0] != "success" {
		t.Errorf("refresh metrics = %v, want [success]", collector.refreshResults)
	}
}

// TestBroker_Token_CacheWithinExpiry は期限内の連続呼び出しで
// キャッシュが使われ、リフレッシュが1回しか走らないことを検証する。
func TestBroker_Token_CacheWithinExpiry(t *testing.T) {
	refreshCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCount++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "cached-token",
			"expires_in":   3600,
		})
	}))
	defer ts.Close()

	broker, _ := newTestBroker(t, ts.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		token, err := broker.Token(ctx)
		if err != nil {
			t.Fatalf("Token call %d failed: %v", i+1, err)
		}
		if token != "cached-token" {
			t.Errorf("token = %q, want cached-token", token)
		}
	}

	if refreshCount != 1 {
		t.Errorf("refresh count = %d, want 1", refreshCount)
	}
}

// TestBroker_Token_RefreshNearExpiry は期限の猶予時間に入ったトークンが
// 期限前でもリフレッシュされることを検証する。
func TestBroker_Token_RefreshNearExpiry(t *testing.T) {
	refreshCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCount++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token",
			"expires_in":   3600,
		})
	}))
	defer ts.Close()

	broker, _ := newTestBroker(t, ts.URL)
	ctx := context.Background()

	base := time.Now()
	broker.now = func() time.Time { return base }

	if _, err := broker.Token(ctx); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	// 期限の30秒前（猶予60秒の内側）まで時計を進める
	broker.now = func() time.Time { return base.Add(3600*time.Second - 30*time.Second) }

	if _, err := broker.Token(ctx); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if refreshCount != 2 {
		t.Errorf("refresh count = %d, want 2 (token within skew must be refreshed)", refreshCount)
	}
}

// TestBroker_Token_FailureDiscardsCache はリフレッシュ失敗でキャッシュが破棄され、
// 次回呼び出しが必ず再リフレッシュすることを検証する。
func TestBroker_Token_FailureDiscardsCache(t *testing.T) {
	fail := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token",
			"expires_in":   3600,
		})
	}))
	defer ts.Close()

	broker, collector := newTestBroker(t, ts.URL)
	ctx := context.Background()

	if _, err := broker.Token(ctx); err != nil {
		t.Fatalf("initial Token failed: %v", err)
	}

	// キャッシュを期限切れにしてから失敗させる
	broker.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	fail = true

	_, err := broker.Token(ctx)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUpstreamAuth {
		t.Fatalf("expected UPSTREAM_AUTH_ERROR, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", apiErr.Status)
	}

	// 失敗後はキャッシュが残っていないこと（成功に戻すと再リフレッシュされる）
	fail = false
	broker.now = time.Now
	token, err := broker.Token(ctx)
	if err != nil {
		t.Fatalf("Token after recovery failed: %v", err)
	}
	if token != "token" {
		t.Errorf("token = %q, want token", token)
	}

	want := []string{"success", "failure", "success"}
	if len(collector.refreshResults) != len(want) {
		t.Errorf("refresh metrics = %v, want %v", collector.refreshResults, want)
	}
}

// TestBroker_Token_NoExpiresIn_NeverCaches はexpires_inを返さないプロバイダーで
// 毎回リフレッシュが走ることを検証する。
func TestBroker_Token_NoExpiresIn_NeverCaches(t *testing.T) {
	refreshCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCount++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "uncacheable-token",
		})
	}))
	defer ts.Close()

	broker, _ := newTestBroker(t, ts.URL)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		token, err := broker.Token(ctx)
		if err != nil {
			t.Fatalf("Token call %d failed: %v", i+1, err)
		}
		if token != "uncacheable-token" {
			t.Errorf("token = %q", token)
		}
	}

	if refreshCount != 2 {
		t.Errorf("refresh count = %d, want 2 (no expires_in means no caching)", refreshCount)
	}
}

// TestBroker_Token_SingleFlight は遅いリフレッシュ中に到着した
// 同時呼び出しがリフレッシュを重複発行せず、全員が同じトークンを
// 受け取ることを検証する。
func TestBroker_Token_SingleFlight(t *testing.T) {
	var refreshCount atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCount.Add(1)
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "shared-token",
			"expires_in":   3600,
		})
	}))
	defer ts.Close()

	broker, _ := newTestBroker(t, ts.URL)

	const concurrency = 5
	results := make(chan string, concurrency)
	errs := make(chan error, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := broker.Token(context.Background())
			results <- token
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
	}
	for token := range results {
		if token != "shared-token" {
			t.Errorf("token = %q, want shared-token", token)
		}
	}
	if got := refreshCount.Load(); got != 1 {
		t.Errorf("refresh count = %d, want 1", got)
	}
}

// TestBroker_Token_Timeout_Transient はリフレッシュのタイムアウトが
// 一時的失敗としてマークされたUPSTREAM_AUTH_ERRORになることを検証する。
func TestBroker_Token_Timeout_Transient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	}))
	defer ts.Close()

	collector := &recordingCollector{}
	broker := NewBroker(BrokerConfig{
		TokenURL:     ts.URL,
		ClientID:     "directory-client",
		ClientSecret: "directory-secret",
		RefreshToken: "refresh-token",
	}, &http.Client{Timeout: 20 * time.Millisecond}, collector)

	_, err := broker.Token(context.Background())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUpstreamAuth {
		t.Fatalf("expected UPSTREAM_AUTH_ERROR, got %v", err)
	}
	if !apiErr.Transient {
		t.Error("timeout must be marked as transient")
	}
	if len(collector.refreshResults) != 1 || collector.refreshResults[0] != "failure" {
		t.Errorf("refresh metrics = %v, want [failure]", collector.refreshResults)
	}
}

// TestBroker_Token_EmptyAccessToken は空のaccess_tokenをエラーとして扱うことを検証する。
func TestBroker_Token_EmptyAccessToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"expires_in": 3600})
	}))
	defer ts.Close()

	broker, _ := newTestBroker(t, ts.URL)

	if _, err := broker.Token(context.Background()); err == nil {
		t.Error("expected error for empty access token")
	}
}
