package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProber treats any non-5xx answer from URL as reachable.
type HTTPProber struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPProber(url, apiKey string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProber{
		URL:     url,
		APIKey:  apiKey,
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, fmt.Errorf("build probe request: %w", err)
	}
	if p.APIKey != "" {
		req.Header.Set("x-api-key", p.APIKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return true, nil
}
