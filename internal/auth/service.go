// Package auth はOAuth2認可コードフローによるログインとセッション発行を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/studentportal/internal/metrics"
	"github.com/hitoshi/studentportal/internal/model"
)

// LoginProvider はログインプロバイダーのインターフェース。
// テストでの差し替えと、将来の複数IdP対応のための抽象化。
type LoginProvider interface {
	// LoginURL は認可エンドポイントへのリダイレクトURLを生成する。
	LoginURL(state string) string
	// Exchange は認可コードをトークンに交換し、認証済みIdentityを取得する。
	Exchange(ctx context.Context, code string) (*model.Identity, error)
}

// SessionEncoder はIdentityをセッショントークンに符号化するインターフェース。
type SessionEncoder interface {
	Encode(identity *model.Identity) (string, error)
}

// Service はログインフローのビジネスロジックを提供する。
type Service struct {
	provider  LoginProvider
	encoder   SessionEncoder
	collector metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(provider LoginProvider, encoder SessionEncoder, collector metrics.MetricsCollector) *Service {
	return &Service{
		provider:  provider,
		encoder:   encoder,
		collector: collector,
	}
}

// Initiate はログインフローを開始する。
// ワンタイムのstateトークンと、認可エンドポイントへのリダイレクトURLを返す。
// stateは呼び出し元が短命のHttpOnly Cookieに保存し、コールバックで照合する。
func (s *Service) Initiate() (state string, loginURL string) {
	state = uuid.NewString()
	return state, s.provider.LoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッショントークンを発行する。
// storedStateはInitiateで発行しCookieに保存されていた値。Cookieが存在しない
// 場合も不一致と同一に扱い、Cookieを剥がしたバイパスを防ぐ。
// stateの照合は他のどの検証よりも先に行う。state不一致のリクエストは
// 認可コードの有無にかかわらずCSRF_MISMATCHになる。
func (s *Service) HandleCallback(ctx context.Context, code, state, storedState string) (string, error) {
	if storedState == "" || state != storedState {
		slog.Warn("oauth state mismatch",
			slog.Bool("stored_state_present", storedState != ""),
		)
		s.collector.RecordLogin("csrf_mismatch")
		return "", model.NewCSRFMismatchError()
	}

	if code == "" {
		s.collector.RecordLogin("failure")
		return "", model.NewValidationError("認可コードがありません")
	}

	identity, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.collector.RecordLogin("failure")
		return "", fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	token, err := s.encoder.Encode(identity)
	if err != nil {
		s.collector.RecordLogin("failure")
		return "", fmt.Errorf("failed to encode session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("login_name", identity.LoginName),
		slog.Int("trust_level", identity.TrustLevel),
	)
	s.collector.RecordLogin("success")

	return token, nil
}
