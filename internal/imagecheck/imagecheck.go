// Package imagecheck decides whether an image URL can be embedded as an
// image block or has to degrade to a plain embed.
package imagecheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/patrickmn/go-cache"

	"github.com/deusflow/readcopilot/internal/retry"
)

const (
	// BrowserUserAgent is sent with probe and feed requests; some hosts
	// refuse the default Go client.
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	minImageBytes = 100
	sniffBytes    = 3072
)

var allowedExt = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".tif": true,
	".tiff": true, ".bmp": true, ".svg": true, ".heic": true, ".webp": true,
}

// Result is the outcome of a validation. Reason is set when Valid is false.
type Result struct {
	Valid  bool
	Reason string
}

type Options struct {
	Client  *http.Client
	Timeout time.Duration
	Retry   retry.RetryConfig
	Logger  *slog.Logger
}

// Validator memoizes results per URL for its own lifetime.
type Validator struct {
	client *http.Client
	retry  retry.RetryConfig
	memo   *cache.Cache
	logger *slog.Logger
}

func New(opts Options) *Validator {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Validator{
		client: client,
		retry:  opts.Retry,
		memo:   cache.New(cache.NoExpiration, 0),
		logger: opts.Logger,
	}
}

// HasAllowedExtension reports whether the URL path ends in a known image
// extension.
func HasAllowedExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return allowedExt[strings.ToLower(path.Ext(u.Path))]
}

// Validate never returns an error; failures are reported as invalid results.
func (v *Validator) Validate(ctx context.Context, rawURL string) Result {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Result{Reason: "empty image url"}
	}
	if HasAllowedExtension(rawURL) {
		return Result{Valid: true}
	}
	if cached, ok := v.memo.Get(rawURL); ok {
		return cached.(Result)
	}

	res := v.probe(ctx, rawURL)
	if !res.Valid {
		v.logger.Debug("image rejected", "url", rawURL, "reason", res.Reason)
	}
	v.memo.Set(rawURL, res, cache.DefaultExpiration)
	return res
}

func (v *Validator) probe(ctx context.Context, rawURL string) Result {
	head, err := retry.Do(ctx, v.retry, func(ctx context.Context) (*probeResponse, error) {
		return v.fetch(ctx, rawURL)
	})
	if err != nil {
		return Result{Reason: err.Error()}
	}

	if head.status != http.StatusOK {
		return Result{Reason: fmt.Sprintf("status %d", head.status)}
	}
	if !strings.HasPrefix(strings.ToLower(head.contentType), "image/") {
		return Result{Reason: fmt.Sprintf("content type %q is not an image", head.contentType)}
	}
	if len(head.body) < minImageBytes {
		return Result{Reason: "image too small, likely corrupt or placeholder"}
	}
	detected := mimetype.Detect(head.body)
	if !detected.Is("application/octet-stream") && !strings.HasPrefix(detected.String(), "image/") {
		return Result{Reason: fmt.Sprintf("body looks like %s", detected.String())}
	}
	return Result{Valid: true}
}

type probeResponse struct {
	status      int
	contentType string
	body        []byte
}

func (v *Validator) fetch(ctx context.Context, rawURL string) (*probeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", BrowserUserAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := v.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, retry.Transient(err)
	}
	defer resp.Body.Close()

	// Only 429 is retried; other statuses, 5xx included, are judged by probe.
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, retry.Transient(fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, sniffBytes))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read body: %w", err))
	}
	return &probeResponse{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}
