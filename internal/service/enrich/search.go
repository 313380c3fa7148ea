package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/saikaki/backend/internal/config"
)

const maxSnippets = 3

// SearchEnricher scrapes a DuckDuckGo-style HTML results page for snippets.
type SearchEnricher struct {
	endpoint string
	client   *http.Client
}

// NewSearchEnricher builds the enricher from configuration. Returns Disabled
// when enrichment is switched off.
func NewSearchEnricher(cfg config.EnrichConfig) Enricher {
	if !cfg.Enabled {
		return Disabled{}
	}
	return &SearchEnricher{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enrich fetches top search snippets for live-data questions and formats
// them as a suffix. No trigger, no results, or a search failure all yield an
// empty suffix.
func (e *SearchEnricher) Enrich(ctx context.Context, userText, draft string) (string, error) {
	if !wantsLiveData(userText) {
		return "", nil
	}

	snippets, err := e.search(ctx, userText)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(snippets) == 0 {
		return "", nil
	}

	var builder strings.Builder
	builder.WriteString("\n\nLive results from the web:\n")
	for _, snippet := range snippets {
		builder.WriteString("• ")
		builder.WriteString(snippet)
		builder.WriteString("\n")
	}
	return strings.TrimRight(builder.String(), "\n"), nil
}

func (e *SearchEnricher) search(ctx context.Context, query string) ([]string, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "saikaki/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected search status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	snippets := make([]string, 0, maxSnippets)
	doc.Find(".result__snippet").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text != "" {
			snippets = append(snippets, text)
		}
		return len(snippets) < maxSnippets
	})
	return snippets, nil
}
