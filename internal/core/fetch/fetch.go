package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"alttext/internal/logger"

	"golang.org/x/time/rate"
)

const maxRedirects = 3

// TransportError covers everything that makes a single page unusable:
// network failures, timeouts, oversized bodies, and non-2xx statuses. It is
// recorded against the page and never fails the job.
type TransportError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options controls HTTP fetching behaviour.
type Options struct {
	Timeout        time.Duration
	MaxBodyBytes   int64
	MaxImageBytes  int64
	RequestsPerSec float64
	UserAgent      string
}

// Result is one successfully fetched page.
type Result struct {
	Body        []byte
	Status      int
	ContentType string
}

// Fetcher retrieves pages and image payloads with bounded time, size, and
// request rate.
type Fetcher struct {
	client        *http.Client
	limiter       *rate.Limiter
	maxBodyBytes  int64
	maxImageBytes int64
	userAgent     string
	log           *logger.Logger
}

func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 8 * 1024 * 1024
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 8
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "AltTextBot/1.0 (accessibility audit)"
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout: opts.Timeout,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Fetcher{
		client:        client,
		limiter:       rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		maxBodyBytes:  opts.MaxBodyBytes,
		maxImageBytes: opts.MaxImageBytes,
		userAgent:     opts.UserAgent,
		log:           logger.New("Fetcher"),
	}
}

// Fetch downloads one HTML page. Non-2xx responses come back as a
// *TransportError carrying the status.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	body, status, contentType, err := f.get(ctx, pageURL, f.maxBodyBytes, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	return &Result{Body: body, Status: status, ContentType: contentType}, nil
}

// FetchImage downloads an image payload for generation, under its own size
// cap. The returned MIME type is taken from the response header.
func (f *Fetcher) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	body, _, contentType, err := f.get(ctx, imageURL, f.maxImageBytes, "image/*,*/*;q=0.5")
	if err != nil {
		return nil, "", err
	}
	mime := contentType
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(mime)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return body, mime, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string, limit int64, accept string) ([]byte, int, string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, 0, "", &TransportError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, "", &TransportError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, "", &TransportError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, resp.StatusCode, "", &TransportError{URL: rawURL, Status: resp.StatusCode}
	}

	limited := io.LimitReader(resp.Body, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, resp.StatusCode, "", &TransportError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > limit {
		return nil, resp.StatusCode, "", &TransportError{URL: rawURL, Err: ErrBodyTooLarge}
	}

	return body, resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

// ErrBodyTooLarge marks responses rejected by the size cap.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")
