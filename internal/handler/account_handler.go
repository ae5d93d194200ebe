package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/studentportal/internal/middleware"
	"github.com/hitoshi/studentportal/internal/model"
	"github.com/hitoshi/studentportal/internal/session"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Register(ctx context.Context, rawSession string, profile *model.Profile) error
	ResetPassword(ctx context.Context, rawSession, newPassword string) error
	AddAlias(ctx context.Context, rawSession, candidate string) (string, error)
	RemoveAlias(ctx context.Context, rawSession, alias string) error
	DeleteAccount(ctx context.Context, rawSession string) error
	ListAliases(ctx context.Context, rawSession string) ([]string, error)
}

// AccountHandlerConfig はアカウントハンドラーの設定。
type AccountHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AccountHandler は学籍アカウントライフサイクルのHTTPハンドラー。
// 認可の判断はすべてサービス側のアクセスゲートが行い、
// ハンドラーは入出力の変換とCookieの操作のみを担当する。
type AccountHandler struct {
	service AccountServiceInterface
	config  AccountHandlerConfig
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface, config AccountHandlerConfig) *AccountHandler {
	return &AccountHandler{
		service: service,
		config:  config,
	}
}

// registerRequest はアカウント登録リクエストのボディ。
type registerRequest struct {
	FullName      string `json:"fullName"`
	Semester      string `json:"semester"`
	Program       string `json:"program"`
	PersonalEmail string `json:"personalEmail"`
	Password      string `json:"password"`
}

// Register は学籍アカウントを登録する。
// POST /api/register
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewValidationError("リクエストボディを解釈できません"))
		return
	}

	profile := &model.Profile{
		FullName:      req.FullName,
		Semester:      req.Semester,
		Program:       req.Program,
		RecoveryEmail: req.PersonalEmail,
		Password:      req.Password,
	}

	if err := h.service.Register(r.Context(), rawSession(r), profile); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeSuccess(w)
}

// resetPasswordRequest はパスワード再設定リクエストのボディ。
type resetPasswordRequest struct {
	Password string `json:"password"`
}

// ResetPassword はアカウントのパスワードを再設定する。
// POST /api/reset-password
func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewValidationError("リクエストボディを解釈できません"))
		return
	}

	if err := h.service.ResetPassword(r.Context(), rawSession(r), req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeSuccess(w)
}

// aliasRequest はエイリアス追加・削除リクエストのボディ。
type aliasRequest struct {
	Alias string `json:"alias"`
}

// AddAlias はアカウントにエイリアスを追加する。
// POST /api/aliases/add
// 成功時は組み立て後の完全なエイリアスを返す。
func (h *AccountHandler) AddAlias(w http.ResponseWriter, r *http.Request) {
	var req aliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewValidationError("リクエストボディを解釈できません"))
		return
	}

	alias, err := h.service.AddAlias(r.Context(), rawSession(r), req.Alias)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"alias": alias})
}

// RemoveAlias はアカウントからエイリアスを削除する。
// POST /api/aliases/delete
func (h *AccountHandler) RemoveAlias(w http.ResponseWriter, r *http.Request) {
	var req aliasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewValidationError("リクエストボディを解釈できません"))
		return
	}

	if err := h.service.RemoveAlias(r.Context(), rawSession(r), req.Alias); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeSuccess(w)
}

// ListAliases はアカウントの現在のエイリアス一覧を返す。
// GET /api/aliases
func (h *AccountHandler) ListAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := h.service.ListAliases(r.Context(), rawSession(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"aliases": aliases})
}

// DeleteAccount はアカウントをディレクトリから削除し、同一レスポンスで
// セッションCookieを破棄する。ディレクトリ削除に成功したのにセッションが
// 生き残ることは許されない。
// POST /api/delete-account
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAccount(r.Context(), rawSession(r)); err != nil {
		middleware.WriteError(w, err)
		return
	}

	// セッションCookieをクリア
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

	writeSuccess(w)
}

// writeSuccess は成功レスポンスの統一フォーマットを書き込む。
func writeSuccess(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
