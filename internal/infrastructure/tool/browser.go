package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

const browseWebOutputCeiling = 8000

// Browser implements the browse_web builtin action: fetch a URL and
// return a plain-text rendering of its body, grounded in spirit on the
// teacher's web_search_tool.go (an external fetch-and-extract tool) but
// using an in-process HTTP client plus an HTML-stripping sanitizer
// instead of shelling out to a Python research script.
type Browser struct {
	client *http.Client
}

// NewBrowser creates a Browser with a bounded-timeout HTTP client.
func NewBrowser() *Browser {
	return &Browser{client: &http.Client{Timeout: 20 * time.Second}}
}

var multiBlankLineRe = regexp.MustCompile(`\n{3,}`)

// BrowseWeb fetches the url argument and returns a truncated plain-text
// rendering of the page body.
func (b *Browser) BrowseWeb(ctx context.Context, input map[string]interface{}) (string, error) {
	rawURL, err := stringArg(input, "url")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", fmt.Errorf("refused: url must be http(s)")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "SafeClaw/1.0 (+owner-initiated fetch)")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read body of %s: %w", rawURL, err)
	}

	text := bluemonday.StrictPolicy().Sanitize(string(body))
	text = multiBlankLineRe.ReplaceAllString(strings.TrimSpace(text), "\n\n")

	if len(text) > browseWebOutputCeiling {
		text = text[:browseWebOutputCeiling] + fmt.Sprintf("\n...[truncated, ceiling=%d chars]", browseWebOutputCeiling)
	}
	return text, nil
}
