package provider

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// ErrRateLimited is returned when the source throttles us, either with a 429
// or with a Cloudflare block page.
var ErrRateLimited = errors.New("rate limited")

var cloudflareMarkers = []string{
	"Access denied | truthsocial.com used Cloudflare",
	"Error 1015",
}

func isRateLimitErr(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func isRateLimited(status int, body string) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	for _, m := range cloudflareMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

func sanitizeText(in string, maxLen int) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	in = strings.Join(strings.Fields(in), " ")
	if maxLen > 0 && len([]rune(in)) > maxLen {
		in = string([]rune(in)[:maxLen])
	}
	return in
}

// htmlStrip keeps the text nodes of an HTML fragment, dropping script and
// style bodies. Every tag boundary becomes a space so adjacent blocks do not
// run together; entities are decoded by the tokenizer.
func htmlStrip(in string) string {
	if strings.TrimSpace(in) == "" {
		return ""
	}
	var b strings.Builder
	skip := 0
	z := html.NewTokenizer(strings.NewReader(in))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			if isHiddenElement(z) {
				skip++
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			if isHiddenElement(z) && skip > 0 {
				skip--
			}
			b.WriteByte(' ')
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

func isHiddenElement(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}
