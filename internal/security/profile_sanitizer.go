package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/walletauth/internal/model"
)

// ProfileSanitizer はプロフィールの自由入力欄からマークアップを除去する。
// 名前はプレーンテキストとして保存するため、タグはすべて落とす。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はStrictPolicyを使うProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text はタグを除去した文字列を返す。
// bluemondayがエスケープした実体参照は元の文字に戻す。
func (s *ProfileSanitizer) Text(in string) string {
	if in == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}

// NewUserData は名前フィールドをサニタイズしたコピーを返す。
// アドレス、メール、ロールは検証側で扱うため変更しない。
func (s *ProfileSanitizer) NewUserData(d model.NewUserData) model.NewUserData {
	d.FirstName = s.Text(d.FirstName)
	d.LastName = s.Text(d.LastName)
	d.EntityName = s.Text(d.EntityName)
	return d
}

// UserPatch は名前フィールドをサニタイズしたコピーを返す。
func (s *ProfileSanitizer) UserPatch(p model.UserPatch) model.UserPatch {
	for _, f := range []**string{&p.FirstName, &p.LastName, &p.EntityName} {
		if *f != nil {
			v := s.Text(**f)
			*f = &v
		}
	}
	return p
}
