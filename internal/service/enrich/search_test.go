package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/saikaki/backend/internal/config"
)

const resultsPage = `<html><body>
<div class="result"><a class="result__snippet">Sunny, 24°C in Lisbon  today</a></div>
<div class="result"><a class="result__snippet">Light   rain expected tonight</a></div>
<div class="result"><a class="result__snippet">Weekend forecast: clear skies</a></div>
<div class="result"><a class="result__snippet">Fourth snippet, never used</a></div>
</body></html>`

func newTestEnricher(t *testing.T, handler http.HandlerFunc) Enricher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSearchEnricher(config.EnrichConfig{Enabled: true, Endpoint: srv.URL})
}

func TestEnrichAppendsSnippets(t *testing.T) {
	e := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		fmt.Fprint(w, resultsPage)
	})

	suffix, err := e.Enrich(context.Background(), "what's the weather today?", "It is probably mild.")
	if err != nil {
		t.Fatalf("Enrich err: %v", err)
	}
	if suffix == "" {
		t.Fatal("expected a suffix for a live-data question")
	}
	if !strings.HasPrefix(suffix, "\n\n") {
		t.Fatalf("suffix must be append-only, got %q", suffix)
	}
	if !strings.Contains(suffix, "Sunny, 24°C in Lisbon today") {
		t.Fatalf("snippet missing or not whitespace-normalized: %q", suffix)
	}
	if strings.Count(suffix, "•") != 3 {
		t.Fatalf("expected 3 snippets, got %q", suffix)
	}
}

func TestEnrichSkipsNonLiveQuestions(t *testing.T) {
	called := false
	e := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	suffix, err := e.Enrich(context.Background(), "explain goroutines", "Goroutines are...")
	if err != nil {
		t.Fatalf("Enrich err: %v", err)
	}
	if suffix != "" {
		t.Fatalf("expected no suffix, got %q", suffix)
	}
	if called {
		t.Fatal("search must not run for non-live questions")
	}
}

func TestEnrichReportsSearchFailure(t *testing.T) {
	e := newTestEnricher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := e.Enrich(context.Background(), "latest news", "draft"); err == nil {
		t.Fatal("expected error on search failure")
	}
}

func TestDisabledEnricher(t *testing.T) {
	e := NewSearchEnricher(config.EnrichConfig{Enabled: false})
	suffix, err := e.Enrich(context.Background(), "latest news", "draft")
	if err != nil || suffix != "" {
		t.Fatalf("disabled enricher must be a no-op, got %q, %v", suffix, err)
	}
}
