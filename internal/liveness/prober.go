package liveness

import (
	"context"
	"io"
	"net/http"

	"bytovka/internal/database"
)

// Prober checks whether a listing page still exists
type Prober interface {
	Probe(ctx context.Context, link string) database.PingResult
}

// Classify maps an HTTP status to a probe result. 2xx and 3xx are alive,
// 404 and 410 mean the listing is gone, everything else is a failure that
// counts toward the threshold.
func Classify(status int) database.PingResult {
	result := database.PingResult{Status: status}
	switch {
	case status >= 200 && status < 400:
		result.OK = true
	case status == http.StatusNotFound || status == http.StatusGone:
		result.Terminal = true
	}
	return result
}

// HTTPProber probes with HEAD and falls back to GET for servers that do
// not implement it. Timeouts come from the caller's context.
type HTTPProber struct {
	client    *http.Client
	userAgent string
}

func NewHTTPProber(userAgent string) *HTTPProber {
	return &HTTPProber{
		client:    &http.Client{},
		userAgent: userAgent,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, link string) database.PingResult {
	status, err := p.do(ctx, http.MethodHead, link)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = p.do(ctx, http.MethodGet, link)
	}
	if err != nil {
		return database.PingResult{}
	}
	return Classify(status)
}

func (p *HTTPProber) do(ctx context.Context, method, link string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		return 0, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)
	return resp.StatusCode, nil
}
