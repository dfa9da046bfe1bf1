package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はユーザー入力や外部フィードのテキストを無害化する。
type Sanitizer interface {
	// SanitizeHTML はブログ記事本文のHTMLを許可リストに基づいてサニタイズする。
	// 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h2, h3, img
	// imgのsrcはhttpsのみ許可し、aにはtarget="_blank"とrel="noopener noreferrer"を付与する。
	SanitizeHTML(rawHTML string) string

	// SanitizeText は全てのタグを除去したプレーンテキストを返す。
	// 習慣のタイトル・説明・カテゴリ、ブログ記事の要約に使用する。
	// エンティティはデコードされ、前後の空白は除去される。
	SanitizeText(raw string) string
}

// sanitizer はSanitizerの実装。bluemondayのポリシーはスレッドセーフ。
type sanitizer struct {
	html   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewSanitizer はSanitizerの新しいインスタンスを生成する。
func NewSanitizer() *sanitizer {
	p := bluemonday.NewPolicy()

	// script, iframe, styleおよびon*属性は許可リストに含めないため除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "h2", "h3",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &sanitizer{
		html:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

// SanitizeHTML はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *sanitizer) SanitizeHTML(rawHTML string) string {
	return s.html.Sanitize(rawHTML)
}

// SanitizeText はタグを除去したプレーンテキストを返す。
func (s *sanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}
