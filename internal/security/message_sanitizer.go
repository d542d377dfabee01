// Package security はアプリケーションのセキュリティ機能を提供する。
//
// 共有メッセージは任意の利用者が書き換えられるため、
// ブラウザに描画する前にbluemondayの許可リストでサニタイズする。
package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はHTMLをサニタイズして安全なHTMLを返す。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// MessageSanitizer は共有メッセージ用のSanitizer実装。
// bluemondayのPolicyは並行利用できる。
type MessageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, strong, em, code, pre, ul, ol, li, blockquote, a
//   - aのhrefはhttpsのみ。rel="nofollow noreferrer noopener"とtarget="_blank"を付与
//   - script, style, iframe, img, on*属性は除去
func NewMessageSanitizer() *MessageSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "strong", "em", "code", "pre",
		"ul", "ol", "li", "blockquote",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &MessageSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。空文字列には空文字列を返す。
func (s *MessageSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}

var _ Sanitizer = (*MessageSanitizer)(nil)
