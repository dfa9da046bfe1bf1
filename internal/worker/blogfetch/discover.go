package blogfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ErrFeedNotFound はURLからRSS/Atomフィードを特定できなかった場合に返る。
var ErrFeedNotFound = errors.New("no RSS/Atom feed found")

const (
	userAgent = "Habitloop/1.0 BlogFetcher"

	discoverTimeout     = 10 * time.Second
	discoverMaxBodySize = 2 << 20
	// sniffSize はXMLのルート要素を判定するために検査する先頭バイト数。
	sniffSize = 4096
)

// feedLink はHTMLのlink要素から見つかったフィード候補。
type feedLink struct {
	url  string
	atom bool
}

// Discoverer はブログのURLから取り込み対象のフィードURLを解決する。
// フィードURLが直接指定された場合はそのまま返し、
// HTMLページの場合は<head>内の rel="alternate" リンクから選ぶ。
type Discoverer struct {
	guard URLGuard
}

// NewDiscoverer はDiscovererを生成する。guardがnilの場合はSSRF検証を行わない。
func NewDiscoverer(guard URLGuard) *Discoverer {
	return &Discoverer{guard: guard}
}

// Resolve はrawURLに対応するフィードURLを返す。
func (d *Discoverer) Resolve(ctx context.Context, rawURL string) (string, error) {
	// 1. SSRF検証
	if d.guard != nil {
		if err := d.guard.ValidateURL(rawURL); err != nil {
			return "", fmt.Errorf("blog url rejected: %w", err)
		}
	}

	// 2. 取得
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid blog url %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.5")

	resp, err := d.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch blog url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch blog url: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, discoverMaxBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read blog url: %w", err)
	}

	// 3. フィードそのものか判定
	mediaType := parseMediaType(resp.Header.Get("Content-Type"))
	if looksLikeFeed(mediaType, body) {
		return rawURL, nil
	}
	if !strings.Contains(mediaType, "html") {
		return "", fmt.Errorf("%w at %s (content type %q)", ErrFeedNotFound, rawURL, mediaType)
	}

	// 4. HTMLからフィードリンクを選択
	// リダイレクト後のURLを相対リンクの基準にする
	best, ok := pickFeed(feedLinks(body, resp.Request.URL), resp.Request.URL.Hostname())
	if !ok {
		return "", fmt.Errorf("%w at %s", ErrFeedNotFound, rawURL)
	}
	return best, nil
}

func (d *Discoverer) client() *http.Client {
	if d.guard != nil {
		return d.guard.NewSafeClient(discoverTimeout, discoverMaxBodySize)
	}
	return &http.Client{Timeout: discoverTimeout}
}

func parseMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// looksLikeFeed はContent-Typeと本文の先頭からRSS/Atomかを判定する。
// text/xml 等の汎用XMLはルート要素で判定する。
func looksLikeFeed(mediaType string, body []byte) bool {
	switch mediaType {
	case "application/rss+xml", "application/atom+xml":
		return true
	case "text/xml", "application/xml":
	default:
		return false
	}

	head := body
	if len(head) > sniffSize {
		head = head[:sniffSize]
	}
	prefix := strings.ToLower(string(head))
	switch {
	case strings.Contains(prefix, "<rss"), strings.Contains(prefix, "<rdf:rdf"):
		return true
	case strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// feedLinks は<head>内のRSS/Atomへの rel="alternate" リンクを文書順に返す。
func feedLinks(htmlBody []byte, base *url.URL) []feedLink {
	var links []feedLink
	z := html.NewTokenizer(bytes.NewReader(htmlBody))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) == "body" {
				return links
			}
			if string(name) != "link" || !hasAttr {
				continue
			}
			if l, ok := parseLinkTag(z, base); ok {
				links = append(links, l)
			}
		}
	}
}

func parseLinkTag(z *html.Tokenizer, base *url.URL) (feedLink, bool) {
	var rel, typ, href string
	for more := true; more; {
		var key, val []byte
		key, val, more = z.TagAttr()
		switch strings.ToLower(string(key)) {
		case "rel":
			rel = strings.ToLower(string(val))
		case "type":
			typ = strings.ToLower(string(val))
		case "href":
			href = strings.TrimSpace(string(val))
		}
	}
	if href == "" || !containsToken(rel, "alternate") {
		return feedLink{}, false
	}
	if typ != "application/rss+xml" && typ != "application/atom+xml" {
		return feedLink{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return feedLink{}, false
	}
	return feedLink{
		url:  base.ResolveReference(ref).String(),
		atom: typ == "application/atom+xml",
	}, true
}

// containsToken はスペース区切りのrel属性にtokenが含まれるかを返す。
func containsToken(rel, token string) bool {
	for _, f := range strings.Fields(rel) {
		if f == token {
			return true
		}
	}
	return false
}

// pickFeed は候補から1件選ぶ。同一ホストを優先し、次にAtom、同順位なら文書順。
func pickFeed(links []feedLink, host string) (string, bool) {
	best, bestScore := -1, -1
	for i, l := range links {
		score := 0
		if u, err := url.Parse(l.url); err == nil && strings.EqualFold(u.Hostname(), host) {
			score += 2
		}
		if l.atom {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return "", false
	}
	return links[best].url, true
}
