// Package model はドメインモデルを定義する。
package model

// Identity はログインプロバイダーが認証したユーザーの同一性を表す。
// セッションに埋め込まれ、発行後は不変として扱う（再ログインで再発行される）。
type Identity struct {
	ExternalID string // ログインプロバイダー側のユーザーID
	LoginName  string // ログイン名。学籍メールアドレスの導出元
	TrustLevel int    // プロバイダーが発行する信頼レベル
}

// Profile は学籍アカウント登録時に利用者が入力するプロフィール。
type Profile struct {
	FullName      string
	Semester      string
	Program       string
	RecoveryEmail string
	Password      string
}

// DirectoryAccount はディレクトリプロバイダー上のアカウントを表す。
// プロバイダーが所有するリソースであり、ローカルコピーは一切保持しない。
// 登録競合の踏み台になる鮮度切れを避けるため、存在確認は毎回プロバイダーに問い合わせる。
type DirectoryAccount struct {
	PrimaryEmail string
	GivenName    string
	FamilyName   string
	Aliases      []string
}

// NewAccount はディレクトリプロバイダーへのアカウント作成リクエスト。
type NewAccount struct {
	PrimaryEmail  string
	GivenName     string
	FamilyName    string
	Password      string
	RecoveryEmail string
}
