package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/datallboy/packman/internal/domain"
)

const userAgent = "packman/1"

// StatusError is returned for any response other than 200 or 206.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", e.URL, e.Status)
}

// Retryable is true for statuses a later attempt could plausibly get past.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests ||
		e.Code >= 500
}

// HTTPFetcher is a resumable byte-range fetch over HTTP.
type HTTPFetcher struct {
	client *http.Client
}

// New builds a fetcher around a client without an overall timeout; transfers
// of large packs are bounded by their context instead.
func New() *HTTPFetcher {
	return NewWithClient(buildHTTPClient())
}

func NewWithClient(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// Fetch requests url from offset onwards. The response is Partial when the
// server honored the range; a 200 means it sent the whole payload again.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, offset int64) (*domain.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return &domain.FetchResponse{Body: resp.Body, Partial: true, Length: resp.ContentLength}, nil
	case http.StatusOK:
		return &domain.FetchResponse{Body: resp.Body, Partial: false, Length: resp.ContentLength}, nil
	}

	// Drain a little so the connection can be reused
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)
	resp.Body.Close()

	return nil, &StatusError{URL: url, Code: resp.StatusCode, Status: resp.Status}
}
