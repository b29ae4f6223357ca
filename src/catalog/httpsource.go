package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mozci/src/logger"
)

// HTTPSource fetches the builder catalog document over HTTP. The document
// carries the full builder map plus the test-to-build dependency table; both
// are produced upstream, this source only reads them.
//
// The document is fetched once and held in memory; Invalidate drops it.
type HTTPSource struct {
	httpClient *http.Client
	url        string
	log        logger.Logger

	doc *document
}

type document struct {
	Builders map[string]json.RawMessage `json:"builders"`
	Upstream map[string]string          `json:"upstream"`
}

// NewHTTPSource creates a source reading the catalog document from url.
func NewHTTPSource(url string, timeout time.Duration, log logger.Logger) *HTTPSource {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		log:        log,
	}
}

func (s *HTTPSource) fetch(ctx context.Context) (*document, error) {
	if s.doc != nil {
		return s.doc, nil
	}

	s.log.Debug("About to fetch %s", s.url)
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching builder catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("builder catalog error %d: %s", resp.StatusCode, string(body))
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding builder catalog: %w", err)
	}
	s.doc = &doc
	return s.doc, nil
}

// ListBuilders returns every builder name in the catalog document.
func (s *HTTPSource) ListBuilders(ctx context.Context) ([]string, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(doc.Builders))
	for name := range doc.Builders {
		names = append(names, name)
	}
	return names, nil
}

// UpstreamBuilder looks the dependency up in the document's upstream table.
// The table keys embed the repository, so repoName only disambiguates
// entries of the form "builder@repo".
func (s *HTTPSource) UpstreamBuilder(ctx context.Context, builderName, repoName string) (string, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	if up, ok := doc.Upstream[builderName+"@"+repoName]; ok {
		return up, nil
	}
	if up, ok := doc.Upstream[builderName]; ok {
		return up, nil
	}
	return "", fmt.Errorf("no upstream builder known for %q on %q", builderName, repoName)
}

// Invalidate drops the cached document so the next call refetches it.
func (s *HTTPSource) Invalidate() {
	s.doc = nil
}
