package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// 上流エラー（認可サーバー・ディレクトリAPI）の場合はHTTPステータスと
// レスポンスボディをログ用に保持するが、ユーザーには一般的なメッセージのみを返す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, directory, system
	Action   string // ユーザー向け対処方法

	Status    int    // 上流が返したHTTPステータス（上流エラーのみ）
	Body      string // 上流が返したレスポンスボディ（ログ専用）
	Transient bool   // タイムアウト等、再試行しても安全な一時的失敗
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeInsufficientTrust = "INSUFFICIENT_TRUST"
	ErrCodeCSRFMismatch      = "CSRF_MISMATCH"
	ErrCodeUpstreamAuth      = "UPSTREAM_AUTH_ERROR"
	ErrCodeDirectory         = "DIRECTORY_ERROR"
	ErrCodeAlreadyRegistered = "ALREADY_REGISTERED"
	ErrCodeNotRegistered     = "NOT_REGISTERED"
	ErrCodeInvalidAlias      = "INVALID_ALIAS"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
)

// NewUnauthenticatedError はセッション不在・無効エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインしていないか、セッションが無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInsufficientTrustError は信頼レベル不足エラーを生成する。
// セッション自体は有効だが、設定された最低信頼レベルに達していない場合に使用する。
func NewInsufficientTrustError(trustLevel, required int) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientTrust,
		Message:  fmt.Sprintf("信頼レベルが不足しています: %d（必要: %d以上）", trustLevel, required),
		Category: "auth",
		Action:   "コミュニティでの活動を続けて信頼レベルを上げてから再度お試しください。",
	}
}

// NewCSRFMismatchError はOAuthコールバックのstate不一致エラーを生成する。
// stateのCookieが存在しない場合も同じエラーとして扱う。
func NewCSRFMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFMismatch,
		Message:  "ログインフローのstateパラメータが一致しません。",
		Category: "auth",
		Action:   "最初からログインをやり直してください。",
	}
}

// NewUpstreamAuthError はトークン交換・ユーザー情報取得の失敗エラーを生成する。
// 上流のステータスとボディはログ専用に保持する。
func NewUpstreamAuthError(status int, body string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAuth,
		Message:  "認証サーバーとの通信に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   status,
		Body:     body,
	}
}

// NewUpstreamAuthTimeoutError はトークン交換のタイムアウトエラーを生成する。
// 一時的失敗としてマークし、呼び出し元が安全に再試行できるようにする。
func NewUpstreamAuthTimeoutError(err error) *APIError {
	return &APIError{
		Code:      ErrCodeUpstreamAuth,
		Message:   "認証サーバーへのリクエストがタイムアウトしました。",
		Category:  "auth",
		Action:    "しばらく待ってから再度お試しください。",
		Body:      err.Error(),
		Transient: true,
	}
}

// NewDirectoryError はディレクトリAPI呼び出しの失敗エラーを生成する。
// 「見つからない」以外の非成功ステータスに対して使用する。
func NewDirectoryError(status int, body string) *APIError {
	return &APIError{
		Code:     ErrCodeDirectory,
		Message:  "ディレクトリサービスとの通信に失敗しました。",
		Category: "directory",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   status,
		Body:     body,
	}
}

// NewDirectoryTimeoutError はディレクトリAPI呼び出しのタイムアウトエラーを生成する。
func NewDirectoryTimeoutError(err error) *APIError {
	return &APIError{
		Code:      ErrCodeDirectory,
		Message:   "ディレクトリサービスへのリクエストがタイムアウトしました。",
		Category:  "directory",
		Action:    "しばらく待ってから再度お試しください。",
		Body:      err.Error(),
		Transient: true,
	}
}

// NewAlreadyRegisteredError は重複登録エラーを生成する。
// サーバーエラーではなく、ユーザーに見える「登録済み」という結果として扱う。
func NewAlreadyRegisteredError(address string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyRegistered,
		Message:  fmt.Sprintf("この学籍アカウントは既に登録されています: %s", address),
		Category: "validation",
		Action:   "既存のアカウントにログインするか、パスワードリセットをご利用ください。",
	}
}

// NewNotRegisteredError は未登録エラーを生成する。
// 呼び出し元は登録ページへの誘導を想定している。
func NewNotRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeNotRegistered,
		Message:  "学籍アカウントがまだ登録されていません。",
		Category: "validation",
		Action:   "先に新規登録を行ってください。",
	}
}

// NewInvalidAliasError はエイリアス形式エラーを生成する。
// 命名規則を満たさないエイリアスはプロバイダー呼び出し前に拒否する。
func NewInvalidAliasError(prefix, domain string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAlias,
		Message:  fmt.Sprintf("エイリアスは %s_<名前>@%s の形式で指定してください。", prefix, domain),
		Category: "validation",
		Action:   "命名規則に従ったエイリアスを入力してください。",
	}
}

// NewValidationError は入力値不足・不正エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容に不備があります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}
