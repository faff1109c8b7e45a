package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultFetchTTL   = 60 * time.Second
	maxTextFetchBytes = 10 << 20
)

var ErrTooLarge = errors.New("content exceeds fetch limit")

// Fetcher reads document content through signed URLs.
type Fetcher struct {
	signer ParamSigner
	client *http.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewFetcher(signer ParamSigner, client *http.Client, ttl time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if ttl <= 0 {
		ttl = defaultFetchTTL
	}
	return &Fetcher{signer: signer, client: client, ttl: ttl, now: time.Now}
}

// ReadText downloads the object at path. Each call signs a fresh URL with a
// "v" parameter so intermediary caches never serve content from before a save.
func (f *Fetcher) ReadText(ctx context.Context, path string) (string, error) {
	params := url.Values{}
	params.Set("v", strconv.FormatInt(f.now().UnixNano(), 10))
	signed, err := f.signer.SignedURLWithParams(ctx, path, f.ttl, params)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signed, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(body) > maxTextFetchBytes {
		return "", ErrTooLarge
	}
	return string(body), nil
}
