package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/sync/semaphore"

	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
)

// Fetch guards for web ingestion.
const (
	webFetchTimeout = 30 * time.Second
	webMaxBodyBytes = 4 << 20 // 4 MiB of HTML is plenty for an article
	webSourceTool   = "web"
	webUserAgent    = "corral-ingest/1.0"
)

// WebResult reports one URL's outcome in a batch fetch.
type WebResult struct {
	URL   string `json:"url"`
	DocID string `json:"doc_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// IngestWeb fetches the given URLs, extracts the readable article from each,
// converts it to markdown, and enqueues the result as a document of the
// synthetic "web" source tool. Fetches run concurrently up to MaxConcurrent;
// one bad URL never fails the batch.
func (w *Worker) IngestWeb(ctx context.Context, tenantID string, urls []string) ([]WebResult, error) {
	const op = "ingest.web"

	if len(urls) == 0 {
		return nil, faults.Errorf(faults.SchemaInvalid, op, "no urls given")
	}

	limit := int64(w.cfg.MaxConcurrent)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)

	results := make([]WebResult, len(urls))
	var wg sync.WaitGroup
	for i, raw := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			return results, faults.E(faults.Cancelled, op, err)
		}
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			defer sem.Release(1)

			results[i] = WebResult{URL: raw}
			doc, err := w.fetchOne(ctx, tenantID, raw)
			if err != nil {
				results[i].Error = err.Error()
				w.logger.Warn("web fetch failed", "url", raw, "error", err)
				return
			}
			if err := w.enqueue(ctx, doc); err != nil {
				results[i].Error = err.Error()
				return
			}
			results[i].DocID = doc.ID
		}(i, raw)
	}
	wg.Wait()
	return results, nil
}

// fetchOne downloads a single page under the size and time guards and turns
// it into a normalized document.
func (w *Worker) fetchOne(ctx context.Context, tenantID, rawURL string) (*models.Document, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return nil, fmt.Errorf("unsupported url %q", rawURL)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, webFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, webMaxBodyBytes)
	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("extract article from %s: %w", rawURL, err)
	}

	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return nil, fmt.Errorf("convert %s to markdown: %w", rawURL, err)
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return nil, fmt.Errorf("no readable content at %s", rawURL)
	}

	payload := map[string]any{
		"id":      pageURL.String(),
		"content": markdown,
		"metadata": map[string]any{
			"title": article.Title,
			"url":   pageURL.String(),
		},
	}
	return w.norm.Normalize(tenantID, webSourceTool, payload), nil
}
