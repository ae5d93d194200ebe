// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/studentportal/internal/middleware"
	"github.com/hitoshi/studentportal/internal/model"
	"github.com/hitoshi/studentportal/internal/session"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Initiate() (state string, loginURL string)
	HandleCallback(ctx context.Context, code, state, storedState string) (string, error)
}

// GateInterface はセッション検証のインターフェース。session.Gateの部分集合。
type GateInterface interface {
	Authorize(rawSession string) (*model.Identity, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuthログインフロー関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	gate    GateInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, gate GateInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		gate:    gate,
		config:  config,
	}
}

// Initiate はOAuthログインフローを開始する。
// GET /api/oauth2/initiate
func (h *AuthHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	state, loginURL := h.service.Initiate()

	// stateをワンタイムの短命Cookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /api/oauth2/callback?code=xxx&state=yyy
// stateの照合に失敗した場合はCSRF_MISMATCHとして拒否する。
// Cookieが存在しない場合も同一のエラーになる（別クラスのエラーにはしない）。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")

	// Cookie不在はstoredState=""としてサービス側でstate不一致と同一に扱う
	var storedState string
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		storedState = c.Value
	}

	// stateクッキーはワンタイム。結果にかかわらず削除する
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 認可コードの検証はサービス側で行う。stateの照合が常に先。
	code := r.URL.Query().Get("code")

	token, err := h.service.HandleCallback(r.Context(), code, state, storedState)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteError(w, err)
		return
	}

	// セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 登録ページへリダイレクト
	http.Redirect(w, r, h.config.BaseURL+"/register", http.StatusTemporaryRedirect)
}

// Logout はセッションCookieを破棄する。
// POST /api/logout
// セッションはステートレスなため、Cookieの削除が唯一の破棄操作。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, err := h.gate.Authorize(rawSession(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":          identity.ExternalID,
		"username":    identity.LoginName,
		"trust_level": identity.TrustLevel,
	})
}

// clearSessionCookie はセッションCookieを失効させる。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// rawSession はリクエストから生のセッショントークンを取り出す。
// Cookieが存在しない場合は空文字列を返し、検証はアクセスゲートに委ねる。
func rawSession(r *http.Request) string {
	c, err := r.Cookie(session.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
