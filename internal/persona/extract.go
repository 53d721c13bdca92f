package persona

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var whitespace = regexp.MustCompile(`\s+`)

const maxArticleBytes = 4 << 20

// ExtractArticle returns the readable text of an HTML document, preferring
// the first <article> element.
func ExtractArticle(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	selection := doc.Find("article").First()
	if selection.Length() == 0 {
		selection = doc.Find("body")
	}
	if selection.Length() == 0 {
		selection = doc.Selection
	}

	var parts []string
	selection.Contents().Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, s.Text())
	})
	return CleanWhitespace(strings.Join(parts, " ")), nil
}

// FetchArticle downloads url and extracts its text.
func FetchArticle(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return ExtractArticle(io.LimitReader(resp.Body, maxArticleBytes))
}

// CleanWhitespace collapses runs of whitespace into single spaces.
func CleanWhitespace(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
