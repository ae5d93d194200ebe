package account

import (
	"context"
	"log/slog"

	"github.com/hitoshi/studentportal/internal/model"
)

// AccessGate はライフサイクル操作の前段で呼ばれる認可ゲートのインターフェース。
// session.Gateの部分集合として定義する。
type AccessGate interface {
	Authorize(rawSession string) (*model.Identity, error)
}

// DirectoryAPI はディレクトリプロバイダー操作のインターフェース。
// directory.Clientの部分集合として定義する。
type DirectoryAPI interface {
	Lookup(ctx context.Context, address string) (*model.DirectoryAccount, error)
	Create(ctx context.Context, account *model.NewAccount) error
	SetPassword(ctx context.Context, address, password string) error
	AddAlias(ctx context.Context, address, alias string) error
	RemoveAlias(ctx context.Context, address, alias string) error
	Delete(ctx context.Context, address string) error
}

// Service は学籍アカウントのライフサイクル操作を提供する。
// すべての操作は最初にAccessGateを通し、ゲートの失敗をそのまま伝播させる。
// ローカルにアカウント状態を保持せず、判断は毎回プロバイダーへの
// 問い合わせから導出する。このためオーケストレーター自体にロックは不要。
type Service struct {
	gate   AccessGate
	dir    DirectoryAPI
	naming *Naming
}

// NewService はServiceを生成する。
func NewService(gate AccessGate, dir DirectoryAPI, naming *Naming) *Service {
	return &Service{
		gate:   gate,
		dir:    dir,
		naming: naming,
	}
}

// Register は学籍アカウントを新規登録する。
// アカウントアドレスを導出し、プロバイダーでの存在を確認してから作成する。
// 既に存在する場合はALREADY_REGISTEREDで失敗する（上書きはしない）。
// 存在確認と作成はアトミックではなく、同一アドレスへの同時登録は
// プロバイダー側の一意性制約が最終的な裁定者になる。敗者のcreateは
// DIRECTORY_ERRORとして表面化する。
func (s *Service) Register(ctx context.Context, rawSession string, profile *model.Profile) error {
	identity, err := s.gate.Authorize(rawSession)
	if err != nil {
		return err
	}

	if profile.FullName == "" || profile.RecoveryEmail == "" || profile.Password == "" {
		return model.NewValidationError("氏名・連絡用メールアドレス・パスワードは必須です")
	}

	address := s.naming.Address(identity.LoginName)

	// 存在確認はcreate発行前に必ず完了・観測される
	existing, err := s.dir.Lookup(ctx, address)
	if err != nil {
		return err
	}
	if existing != nil {
		return model.NewAlreadyRegisteredError(address)
	}

	givenName, familyName := SplitFullName(profile.FullName)

	newAccount := &model.NewAccount{
		PrimaryEmail:  address,
		GivenName:     givenName,
		FamilyName:    familyName,
		Password:      profile.Password,
		RecoveryEmail: profile.RecoveryEmail,
	}

	if err := s.dir.Create(ctx, newAccount); err != nil {
		return err
	}

	slog.Info("student account registered",
		slog.String("address", address),
		slog.String("program", profile.Program),
		slog.String("semester", profile.Semester),
	)
	return nil
}

// ResetPassword はアカウントのパスワードを再設定する。
// アカウントが存在しない場合はNOT_REGISTEREDで失敗する
// （呼び出し元は登録ページへの誘導を想定）。
func (s *Service) ResetPassword(ctx context.Context, rawSession, newPassword string) error {
	identity, err := s.gate.Authorize(rawSession)
	if err != nil {
		return err
	}

	if newPassword == "" {
		return model.NewValidationError("新しいパスワードは必須です")
	}

	address := s.naming.Address(identity.LoginName)

	existing, err := s.dir.Lookup(ctx, address)
	if err != nil {
		return err
	}
	if existing == nil {
		return model.NewNotRegisteredError()
	}

	if err := s.dir.SetPassword(ctx, address, newPassword); err != nil {
		return err
	}

	slog.Info("password reset", slog.String("address", address))
	return nil
}

// AddAlias はアカウントにエイリアスを追加し、追加された完全なエイリアスを返す。
// 入力は予約プレフィックスとドメインの命名規則を満たす必要があり、
// 満たさない場合はネットワーク呼び出しなしにINVALID_ALIASで失敗する。
func (s *Service) AddAlias(ctx context.Context, rawSession, candidate string) (string, error) {
	identity, err := s.gate.Authorize(rawSession)
	if err != nil {
		return "", err
	}

	alias, ok := s.naming.ComposeAlias(candidate)
	if !ok {
		return "", model.NewInvalidAliasError(s.naming.Prefix(), s.naming.Domain())
	}

	address := s.naming.Address(identity.LoginName)

	if err := s.dir.AddAlias(ctx, address, alias); err != nil {
		return "", err
	}

	slog.Info("alias added",
		slog.String("address", address),
		slog.String("alias", alias),
	)
	return alias, nil
}

// RemoveAlias はアカウントからエイリアスを削除する。
// 既存エイリアスの削除は安全なため、追加時のような形式検証は行わない。
func (s *Service) RemoveAlias(ctx context.Context, rawSession, alias string) error {
	identity, err := s.gate.Authorize(rawSession)
	if err != nil {
		return err
	}

	if alias == "" {
		return model.NewValidationError("削除するエイリアスを指定してください")
	}

	address := s.naming.Address(identity.LoginName)

	if err := s.dir.RemoveAlias(ctx, address, alias); err != nil {
		return err
	}

	slog.Info("alias removed",
		slog.String("address", address),
		slog.String("alias", alias),
	)
	return nil
}

// DeleteAccount はアカウントをディレクトリから削除する。
// 成功後、呼び出し元は同一レスポンス内でセッションを必ず破棄すること。
// ディレクトリ削除が成功したのにセッションが生き残るのは不変条件違反。
func (s *Service) DeleteAccount(ctx context.Context, rawSession string) error {
	identity, err := s.gate.Authorize(rawSession)
	if err != nil {
		return err
	}

	address := s.naming.Address(identity.LoginName)

	if err := s.dir.Delete(ctx, address); err != nil {
		return err
	}

	slog.Info("student account deleted", slog.String("address", address))
	return nil
}

// ListAliases はアカウントの現在のエイリアス一覧を返す。
// 表示用の読み取り専用操作であり、アカウント未登録・エイリアスなしの
// いずれの場合も空リストを返す。
func (s *Service) ListAliases(ctx context.Context, rawSession string) ([]string, error) {
	identity, err := s.gate.Authorize(rawSession)
	if err != nil {
		return nil, err
	}

	address := s.naming.Address(identity.LoginName)

	account, err := s.dir.Lookup(ctx, address)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Aliases == nil {
		return []string{}, nil
	}

	return account.Aliases, nil
}
