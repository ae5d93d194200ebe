package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/studentportal/internal/metrics"
	"github.com/hitoshi/studentportal/internal/model"
)

// TokenSource はディレクトリAPI呼び出し用のアクセストークンを供給するインターフェース。
// Brokerの部分集合として定義する。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientConfig はディレクトリクライアントの設定。
type ClientConfig struct {
	BaseURL string // 例: https://admin.googleapis.com/admin/directory/v1
}

// Client はディレクトリプロバイダーのRESTリソースを操作する薄い型付きラッパー。
// 呼び出しごとにTokenSourceから新しいトークンを取得する。
// この層では再試行しない。再試行の判断は呼び出し元に委ねる。
type Client struct {
	config     ClientConfig
	tokens     TokenSource
	httpClient *http.Client
	collector  metrics.MetricsCollector
}

// NewClient はClientを生成する。
func NewClient(config ClientConfig, tokens TokenSource, httpClient *http.Client, collector metrics.MetricsCollector) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		config:     config,
		tokens:     tokens,
		httpClient: httpClient,
		collector:  collector,
	}
}

// directoryUser はディレクトリプロバイダーのユーザーリソース表現。
type directoryUser struct {
	PrimaryEmail string `json:"primaryEmail"`
	Name         struct {
		GivenName  string `json:"givenName"`
		FamilyName string `json:"familyName"`
	} `json:"name"`
	Aliases []string `json:"aliases"`
}

// Lookup はアカウントの存在をディレクトリプロバイダーに問い合わせる。
// 「見つからない」はエラーではなくnilとして返し、それ以外の非成功は
// DIRECTORY_ERRORとして元のステータスを保持して返す。
func (c *Client) Lookup(ctx context.Context, address string) (*model.DirectoryAccount, error) {
	body, status, err := c.do(ctx, "lookup", http.MethodGet, c.userURL(address), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	var user directoryUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}

	return &model.DirectoryAccount{
		PrimaryEmail: user.PrimaryEmail,
		GivenName:    user.Name.GivenName,
		FamilyName:   user.Name.FamilyName,
		Aliases:      user.Aliases,
	}, nil
}

// Create はアカウントを新規作成する。
func (c *Client) Create(ctx context.Context, account *model.NewAccount) error {
	payload := map[string]any{
		"name": map[string]string{
			"givenName":  account.GivenName,
			"familyName": account.FamilyName,
		},
		"password":      account.Password,
		"primaryEmail":  account.PrimaryEmail,
		"recoveryEmail": account.RecoveryEmail,
	}
	_, _, err := c.do(ctx, "create", http.MethodPost, c.config.BaseURL+"/users", payload)
	return err
}

// SetPassword はアカウントのパスワードを更新する。
func (c *Client) SetPassword(ctx context.Context, address, password string) error {
	payload := map[string]any{"password": password}
	_, _, err := c.do(ctx, "set_password", http.MethodPatch, c.userURL(address), payload)
	return err
}

// AddAlias はアカウントにエイリアスを追加する。
// エイリアスの形式検証は呼び出し元（account.Service）の責務であり、
// この層に到達する文字列は検証済みであることが前提。
func (c *Client) AddAlias(ctx context.Context, address, alias string) error {
	payload := map[string]any{"alias": alias}
	_, _, err := c.do(ctx, "add_alias", http.MethodPost, c.userURL(address)+"/aliases", payload)
	return err
}

// RemoveAlias はアカウントからエイリアスを削除する。
func (c *Client) RemoveAlias(ctx context.Context, address, alias string) error {
	_, _, err := c.do(ctx, "remove_alias", http.MethodDelete, c.userURL(address)+"/aliases/"+url.PathEscape(alias), nil)
	return err
}

// Delete はアカウントを削除する。
func (c *Client) Delete(ctx context.Context, address string) error {
	_, _, err := c.do(ctx, "delete", http.MethodDelete, c.userURL(address), nil)
	return err
}

// userURL はアカウントアドレスをキーとするユーザーリソースのURLを構築する。
func (c *Client) userURL(address string) string {
	return c.config.BaseURL + "/users/" + url.PathEscape(address)
}

// do はトークンを取得し、1回のディレクトリAPI呼び出しを実行する。
// lookupの404は正常系として素通しし、それ以外の非2xxはDIRECTORY_ERRORにする。
func (c *Client) do(ctx context.Context, op, method, reqURL string, payload any) ([]byte, int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.collector.RecordDirectoryCall(op, "token_error")
		return nil, 0, err
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode request payload: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.collector.RecordDirectoryLatency(op, time.Since(start))
	if err != nil {
		c.collector.RecordDirectoryCall(op, "network_error")
		if isTimeout(err) {
			return nil, 0, model.NewDirectoryTimeoutError(err)
		}
		return nil, 0, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.collector.RecordDirectoryCall(op, "read_error")
		return nil, 0, fmt.Errorf("failed to read directory response: %w", err)
	}

	if op == "lookup" && resp.StatusCode == http.StatusNotFound {
		c.collector.RecordDirectoryCall(op, "not_found")
		return nil, resp.StatusCode, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.collector.RecordDirectoryCall(op, "error")
		slog.Error("directory call failed",
			slog.String("op", op),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, resp.StatusCode, model.NewDirectoryError(resp.StatusCode, string(body))
	}

	c.collector.RecordDirectoryCall(op, "success")
	return body, resp.StatusCode, nil
}
