package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/hitoshi/studentportal/internal/model"
)

// ProviderConfig はログインプロバイダーの設定。
// エンドポイントはすべて運用側の設定値であり、リクエストから与えられることはない。
type ProviderConfig struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserEndpoint          string
	ClientID              string
	ClientSecret          string
	RedirectURI           string
}

// Provider はOAuth2認可コードフローによるログインプロバイダーのクライアント。
type Provider struct {
	config     ProviderConfig
	httpClient *http.Client
}

// NewProvider はProviderを生成する。
// httpClientにはタイムアウトを設定したクライアントを渡すこと。
func NewProvider(config ProviderConfig, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Provider{
		config:     config,
		httpClient: httpClient,
	}
}

// LoginURL は認可エンドポイントへのリダイレクトURLを生成する。
// stateはCSRF対策のワンタイムトークンで、コールバック時に照合される。
func (p *Provider) LoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {p.config.RedirectURI},
		"state":         {state},
	}
	return p.config.AuthorizationEndpoint + "?" + params.Encode()
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// userInfoResponse はユーザー情報エンドポイントのレスポンス。
// idは数値・文字列どちらのプロバイダー実装もあるためjson.Numberで受ける。
type userInfoResponse struct {
	ID         json.Number `json:"id"`
	Username   string      `json:"username"`
	TrustLevel int         `json:"trust_level"`
}

// Exchange は認可コードをアクセストークンに交換し、認証済みIdentityを取得する。
// トークン交換・ユーザー情報取得のいずれかが非成功ステータスを返した場合は
// UPSTREAM_AUTH_ERRORで失敗する。タイムアウトは一時的失敗としてマークされる。
func (p *Provider) Exchange(ctx context.Context, code string) (*model.Identity, error) {
	accessToken, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	identity, err := p.fetchUserInfo(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *Provider) exchangeToken(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.config.RedirectURI},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", model.NewUpstreamAuthTimeoutError(err)
		}
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", model.NewUpstreamAuthError(resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}

	return tokenResp.AccessToken, nil
}

// fetchUserInfo はアクセストークンでユーザー情報を取得し、Identityを構築する。
func (p *Provider) fetchUserInfo(ctx context.Context, accessToken string) (*model.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, model.NewUpstreamAuthTimeoutError(err)
		}
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewUpstreamAuthError(resp.StatusCode, string(body))
	}

	var userInfo userInfoResponse
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if userInfo.Username == "" {
		return nil, fmt.Errorf("empty username in user info response")
	}

	return &model.Identity{
		ExternalID: userInfo.ID.String(),
		LoginName:  userInfo.Username,
		TrustLevel: userInfo.TrustLevel,
	}, nil
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
