// Package session はセッションの符号化・復号とアクセスゲートを提供する。
// セッションは署名付きJWTとしてCookieで運ばれ、サーバー側には状態を持たない。
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/studentportal/internal/model"
)

// CookieName はセッションJWTを保持するCookieの名前。
const CookieName = "portal_session"

// sessionClaims はセッションJWTのクレーム。
// 発行時のIdentityをそのまま埋め込む。信頼レベルはログインプロバイダーの
// 主張をセッション有効期間中は検証済みとして扱う（リクエストごとの再照会はしない）。
type sessionClaims struct {
	UID       string `json:"uid"`
	LoginName string `json:"uname"`
	Trust     int    `json:"trust"`
	jwt.RegisteredClaims
}

// CodecConfig はCodecの設定。
type CodecConfig struct {
	Secret string        // HMAC署名鍵
	MaxAge time.Duration // セッション有効期間
}

// Codec はIdentityと署名付きセッショントークンを相互変換する。
type Codec struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time // テスト用に差し替え可能
}

// NewCodec はCodecを生成する。
func NewCodec(config CodecConfig) (*Codec, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if config.MaxAge <= 0 {
		return nil, fmt.Errorf("session max age must be positive")
	}
	return &Codec{
		secret: []byte(config.Secret),
		maxAge: config.MaxAge,
		now:    time.Now,
	}, nil
}

// Encode はIdentityを署名付きセッショントークンに変換する。
func (c *Codec) Encode(identity *model.Identity) (string, error) {
	now := c.now()
	claims := sessionClaims{
		UID:       identity.ExternalID,
		LoginName: identity.LoginName,
		Trust:     identity.TrustLevel,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.maxAge)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Decode はセッショントークンを検証してIdentityを復元する。
// 入力が空・改ざん・期限切れ・形式不正のいずれの場合もnilを返し、
// エラーは返さない。呼び出し元は「有効なセッションがない」という
// 単一の分岐で扱えばよい。
func (c *Codec) Decode(raw string) *model.Identity {
	if raw == "" {
		return nil
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil
	}

	if claims.LoginName == "" {
		return nil
	}

	return &model.Identity{
		ExternalID: claims.UID,
		LoginName:  claims.LoginName,
		TrustLevel: claims.Trust,
	}
}
