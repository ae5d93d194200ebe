// Package directory はディレクトリプロバイダーとの連携を提供する。
// サービス資格情報によるトークン取得と、アカウントリソースの各操作を含む。
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/studentportal/internal/metrics"
	"github.com/hitoshi/studentportal/internal/model"
)

// expirySkew はキャッシュ済みトークンを期限切れ扱いにする猶予。
// 期限ぎりぎりのトークンをディレクトリAPIに渡さないための余裕時間。
const expirySkew = 60 * time.Second

// BrokerConfig はサービス資格情報ブローカーの設定。
type BrokerConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Broker は長命のリフレッシュトークンを短命のアクセストークンに交換し、
// プロセスメモリ上でキャッシュする。プロセスにつき1インスタンスを生成し、
// 依存として注入する。キャッシュはmutexで保護された唯一の共有可変状態。
type Broker struct {
	config     BrokerConfig
	httpClient *http.Client
	collector  metrics.MetricsCollector

	mu     sync.Mutex
	token  string
	expiry time.Time

	now func() time.Time // テスト用に差し替え可能
}

// NewBroker はBrokerを生成する。
func NewBroker(config BrokerConfig, httpClient *http.Client, collector metrics.MetricsCollector) *Broker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Broker{
		config:     config,
		httpClient: httpClient,
		collector:  collector,
		now:        time.Now,
	}
}

// brokerTokenResponse はディレクトリプロバイダーのトークンエンドポイントのレスポンス。
type brokerTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token は有効なアクセストークンを返す。
// キャッシュが期限の猶予内であればそれを返し、それ以外はリフレッシュする。
// 期限切れトークンを返すことはない。リフレッシュ失敗時はキャッシュを破棄し、
// 次回呼び出しで必ず再リフレッシュさせる。自動再試行はしない。
// リフレッシュはロック内で実行する。同時に到着した呼び出しは完了を待って
// 同じキャッシュを読むため、同時リフレッシュは常に1本（シングルフライト）。
// このブローカーを通るのはディレクトリ操作だけで、ログインフロー等の
// 無関係なリクエストがここで待たされることはない。
func (b *Broker) Token(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" && b.now().Before(b.expiry.Add(-expirySkew)) {
		return b.token, nil
	}

	token, expiresIn, err := b.refresh(ctx)
	if err != nil {
		b.token = ""
		b.expiry = time.Time{}
		b.collector.RecordTokenRefresh("failure")
		return "", err
	}

	b.collector.RecordTokenRefresh("success")

	// expires_inが返らないプロバイダーではキャッシュせず、毎回リフレッシュする
	// （余計なラウンドトリップと引き換えに鮮度切れリスクをゼロにする）。
	if expiresIn <= 0 {
		b.token = ""
		b.expiry = time.Time{}
		return token, nil
	}

	b.token = token
	b.expiry = b.now().Add(time.Duration(expiresIn) * time.Second)
	return token, nil
}

// refresh はリフレッシュトークングラントでアクセストークンを取得する。
func (b *Broker) refresh(ctx context.Context) (string, int, error) {
	data := url.Values{
		"client_id":     {b.config.ClientID},
		"client_secret": {b.config.ClientSecret},
		"refresh_token": {b.config.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", 0, model.NewUpstreamAuthTimeoutError(err)
		}
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Error("service credential refresh failed",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", 0, model.NewUpstreamAuthError(resp.StatusCode, string(body))
	}

	var tokenResp brokerTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("empty access token in response")
	}

	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}

// isTimeout はネットワークエラーがタイムアウト起因かどうかを判定する。
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
