// Package account は学籍アカウントのライフサイクル管理を提供する。
// アカウントアドレスの導出、エイリアス命名規則、登録・更新・削除の
// オーケストレーションを含む。
package account

import (
	"fmt"
	"regexp"
	"strings"
)

// Naming はログイン名とディレクトリアカウントを結びつける命名規則を保持する。
// アドレス導出はloginNameとdomainの純粋関数であり、全操作で同一に適用される。
// 登録・検索・削除・エイリアス操作の間で導出が食い違ってはならない。
type Naming struct {
	domain  string
	prefix  string
	aliasRe *regexp.Regexp
}

// NewNaming はNamingを生成する。
// domainは@なしの形式で渡すこと。
func NewNaming(domain, prefix string) (*Naming, error) {
	if domain == "" {
		return nil, fmt.Errorf("email domain is required")
	}
	if prefix == "" {
		return nil, fmt.Errorf("alias prefix is required")
	}

	re, err := regexp.Compile("^" + regexp.QuoteMeta(prefix) + "_[^@]+@" + regexp.QuoteMeta(domain) + "$")
	if err != nil {
		return nil, fmt.Errorf("failed to compile alias pattern: %w", err)
	}

	return &Naming{
		domain:  domain,
		prefix:  prefix,
		aliasRe: re,
	}, nil
}

// Domain は設定されたメールドメインを返す。
func (n *Naming) Domain() string {
	return n.domain
}

// Prefix はエイリアスの予約プレフィックスを返す。
func (n *Naming) Prefix() string {
	return n.prefix
}

// Address はログイン名から正規のアカウントアドレスを導出する。
// ログイン名が既に@を含む場合はそのまま使い、含まない場合はドメインを付与する。
func (n *Naming) Address(loginName string) string {
	if strings.Contains(loginName, "@") {
		return loginName
	}
	return loginName + "@" + n.domain
}

// ValidAlias はエイリアスが命名規則を満たすかどうかを判定する。
func (n *Naming) ValidAlias(alias string) bool {
	return n.aliasRe.MatchString(alias)
}

// ComposeAlias は利用者の入力から完全なエイリアスを組み立てて検証する。
// @を含む入力は完全なエイリアスとして扱い、含まない入力はサフィックスとして
// <prefix>_<suffix>@<domain> に組み立てる。いずれも命名規則を満たさない場合は
// 空文字列とfalseを返す。規則を満たさないエイリアスがプロバイダーに渡ることはない。
func (n *Naming) ComposeAlias(candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}

	full := candidate
	if !strings.Contains(candidate, "@") {
		full = n.prefix + "_" + candidate + "@" + n.domain
	}

	if !n.ValidAlias(full) {
		return "", false
	}
	return full, true
}

// SplitFullName は自由記述の氏名を名と姓に分割する。
// 最初の語を名、残りを姓とする。残りがない場合は名を姓として繰り返す。
// これは厳密なパーサーではなくヒューリスティックであり、意図されたフォールバック。
func SplitFullName(fullName string) (givenName, familyName string) {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return "", ""
	}

	givenName = fields[0]
	familyName = strings.Join(fields[1:], " ")
	if familyName == "" {
		familyName = givenName
	}
	return givenName, familyName
}
