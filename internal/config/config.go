package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Login provider (OAuth2 認可コードフロー)
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserEndpoint          string
	OAuthClientID         string
	OAuthClientSecret     string
	OAuthRedirectURI      string

	// Directory provider (サービス資格情報)
	DirectoryClientID     string
	DirectoryClientSecret string
	DirectoryRefreshToken string
	DirectoryTokenURL     string
	DirectoryBaseURL      string

	// Account
	EmailDomain   string // 学籍メールアドレスのドメイン（先頭の@は除去して保持）
	AliasPrefix   string // エイリアスに要求される予約プレフィックス
	MinTrustLevel int    // 全ライフサイクル操作に適用する最低信頼レベル

	// Session
	SessionSecret string
	SessionMaxAge int

	// Upstream
	UpstreamTimeout time.Duration

	// Rate Limit
	RateLimitGeneral  int
	RateLimitRegister int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	required := []struct {
		key  string
		dest *string
	}{
		{"AUTHORIZATION_ENDPOINT", &cfg.AuthorizationEndpoint},
		{"TOKEN_ENDPOINT", &cfg.TokenEndpoint},
		{"USER_ENDPOINT", &cfg.UserEndpoint},
		{"OAUTH_CLIENT_ID", &cfg.OAuthClientID},
		{"OAUTH_CLIENT_SECRET", &cfg.OAuthClientSecret},
		{"OAUTH_REDIRECT_URI", &cfg.OAuthRedirectURI},
		{"DIRECTORY_CLIENT_ID", &cfg.DirectoryClientID},
		{"DIRECTORY_CLIENT_SECRET", &cfg.DirectoryClientSecret},
		{"DIRECTORY_REFRESH_TOKEN", &cfg.DirectoryRefreshToken},
		{"SESSION_SECRET", &cfg.SessionSecret},
		{"BASE_URL", &cfg.BaseURL},
	}

	for _, f := range required {
		*f.dest = os.Getenv(f.key)
		if *f.dest == "" {
			missing = append(missing, f.key)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DirectoryTokenURL = getEnvString("DIRECTORY_TOKEN_URL", "https://oauth2.googleapis.com/token")
	cfg.DirectoryBaseURL = getEnvString("DIRECTORY_BASE_URL", "https://admin.googleapis.com/admin/directory/v1")
	cfg.EmailDomain = normalizeDomain(getEnvString("EMAIL_DOMAIN", "chatgpt.org.uk"))
	cfg.AliasPrefix = getEnvString("ALIAS_PREFIX", "chatgpt")
	cfg.MinTrustLevel = getEnvInt("MIN_TRUST_LEVEL", 3)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitRegister = getEnvInt("RATE_LIMIT_REGISTER", 5)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// normalizeDomain は先頭に@が付いたドメイン指定を許容し、@なしの形に正規化する。
func normalizeDomain(domain string) string {
	return strings.TrimPrefix(domain, "@")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
