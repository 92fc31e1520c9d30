// Package web implements the best-effort document fetch used to render
// dispute evidence: render(url, mode) -> text.
package web

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Render modes understood by Fetcher.
const (
	ModeText = "text"
	ModeHTML = "html"
)

var (
	ErrUnsupportedScheme = errors.New("web: only http and https URLs can be rendered")
	ErrUnsupportedMode   = errors.New("web: unsupported render mode")
)

// Config tunes the fetcher. Zero values fall back to defaults.
type Config struct {
	Timeout       time.Duration
	MaxBodyBytes  int64
	RatePerSecond float64
	Burst         int
	Attempts      int
	RetryDelay    time.Duration
	UserAgent     string
}

// Fetcher retrieves documents over HTTP and renders them as plain text.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	strict  *bluemonday.Policy
	ugc     *bluemonday.Policy
	cfg     Config
}

var whitespaceRun = regexp.MustCompile(`[ \t\r\f\v]+`)
var blankLines = regexp.MustCompile(`\n\s*\n+`)

// NewFetcher returns a fetcher with sane timeouts.
func NewFetcher(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "p2pescrow-evidence/1.0"
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
		strict:  bluemonday.StrictPolicy(),
		ugc:     bluemonday.UGCPolicy(),
		cfg:     cfg,
	}
}

// Render fetches rawURL and returns its content in the requested mode.
func (f *Fetcher) Render(ctx context.Context, rawURL, mode string) (string, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("web: parse url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", ErrUnsupportedScheme
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeText
	}
	if mode != ModeText && mode != ModeHTML {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}

	status, body, err := doWithRetry(ctx, f.cfg.Attempts, f.cfg.RetryDelay, func() (int, []byte, error) {
		return f.get(ctx, target.String())
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("web: %s returned status %d", target.Redacted(), status)
	}

	if mode == ModeHTML {
		return f.ugc.Sanitize(string(body)), nil
	}
	return f.textOf(string(body)), nil
}

func (f *Fetcher) get(ctx context.Context, target string) (int, []byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return resp.StatusCode, body, fmt.Errorf("web: status %d", resp.StatusCode)
	}
	return resp.StatusCode, body, nil
}

// textOf strips all markup, decodes entities and collapses whitespace.
func (f *Fetcher) textOf(doc string) string {
	doc = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "</p>\n", "</div>", "</div>\n", "</li>", "</li>\n").Replace(doc)
	text := html.UnescapeString(f.strict.Sanitize(doc))
	text = whitespaceRun.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}
