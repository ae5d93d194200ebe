package session

import (
	"github.com/hitoshi/studentportal/internal/model"
)

// Gate はすべてのライフサイクル操作の前段で呼ばれるアクセスゲート。
// 「認証済み、かつ信頼レベルが閾値以上」を一箇所で強制する。
// 閾値はエンドポイントごとに変えず、設定された単一の値を全操作で使う。
type Gate struct {
	codec    *Codec
	minTrust int
}

// NewGate はGateを生成する。
func NewGate(codec *Codec, minTrust int) *Gate {
	return &Gate{
		codec:    codec,
		minTrust: minTrust,
	}
}

// Authorize は生のセッショントークンを検証し、認可済みIdentityを返す。
// セッションが無効ならUNAUTHENTICATED、信頼レベル不足ならINSUFFICIENT_TRUSTを返す。
// 失敗はそのまま呼び出し元に伝播させ、マスクや再試行はしない。
func (g *Gate) Authorize(raw string) (*model.Identity, error) {
	identity := g.codec.Decode(raw)
	if identity == nil {
		return nil, model.NewUnauthenticatedError()
	}

	if identity.TrustLevel < g.minTrust {
		return nil, model.NewInsufficientTrustError(identity.TrustLevel, g.minTrust)
	}

	return identity, nil
}
