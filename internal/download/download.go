// Package download fetches toolchain archives over HTTP with bounded
// timeouts, a fixed-delay retry policy, and a SHA-256 digest computed while
// the body streams to disk.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
	"github.com/ZebulonRouseFrantzich/zvm/internal/verify"
)

const (
	// DefaultRetries is the total number of attempts per fetch
	DefaultRetries = 3
	// DefaultRetryDelay is the fixed pause between attempts
	DefaultRetryDelay = 2 * time.Second
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "zvm/1.0"
	// DefaultProgressInterval throttles progress events
	DefaultProgressInterval = 100 * time.Millisecond

	maxRedirects = 10
)

// Progress is emitted while a transfer runs and once when it completes.
type Progress struct {
	URL     string
	Bytes   int64
	Total   int64 // -1 when the server sent no Content-Length
	Elapsed time.Duration
	Done    bool
}

// Result describes a completed fetch.
type Result struct {
	Path         string
	Bytes        int64
	SHA256       string
	Verification verify.Method
	Attempts     int
	Elapsed      time.Duration
}

// Downloader handles HTTP downloads with retry logic
type Downloader struct {
	client           *http.Client
	userAgent        string
	retries          uint
	retryDelay       time.Duration
	transferTimeout  time.Duration
	progress         func(Progress)
	progressInterval time.Duration
	logger           config.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithRetries sets the total number of attempts. Zero keeps the default.
func WithRetries(n uint) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.retries = n
		}
	}
}

// WithRetryDelay sets the fixed pause between attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Downloader) { d.retryDelay = delay }
}

// WithTransferTimeout bounds each attempt, from request to last body byte.
func WithTransferTimeout(timeout time.Duration) Option {
	return func(d *Downloader) { d.transferTimeout = timeout }
}

// WithProgress registers a progress callback.
func WithProgress(fn func(Progress)) Option {
	return func(d *Downloader) { d.progress = fn }
}

// WithProgressInterval sets the minimum spacing between progress events.
func WithProgressInterval(interval time.Duration) Option {
	return func(d *Downloader) { d.progressInterval = interval }
}

// WithLogger sets the logger.
func WithLogger(l config.Logger) Option {
	return func(d *Downloader) { d.logger = config.OrNop(l) }
}

// NewHTTPClient returns a client whose dial and TLS handshake are bounded by
// connectTimeout and whose requests, body included, are bounded by
// totalTimeout. Archive fetches also carry a per-attempt deadline.
func NewHTTPClient(connectTimeout, totalTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = connectTimeout

	return &http.Client{
		Timeout:   totalTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// New creates a downloader from cfg's timeouts.
func New(cfg *config.Config, opts ...Option) *Downloader {
	d := &Downloader{
		client:           NewHTTPClient(cfg.ConnectTimeout, cfg.DownloadTimeout),
		userAgent:        DefaultUserAgent,
		retries:          DefaultRetries,
		retryDelay:       DefaultRetryDelay,
		transferTimeout:  cfg.DownloadTimeout,
		progressInterval: DefaultProgressInterval,
		logger:           config.OrNop(cfg.Logger),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Client returns the HTTP client so adapters share the same timeouts. Every
// request it makes is bounded by the configured download timeout.
func (d *Downloader) Client() *http.Client {
	return d.client
}

// Fetch downloads url to dest. When expected is non-empty the streamed
// SHA-256 must match it, otherwise dest is removed and a
// *errs.ChecksumMismatchError is returned without retrying. An empty
// expected value yields verify.MethodNone.
//
// Network failures and 5xx responses are retried; 4xx responses are not.
func (d *Downloader) Fetch(ctx context.Context, url, dest, expected string) (*Result, error) {
	start := time.Now()
	attempts := 0

	res, err := backoff.Retry(ctx, func() (*Result, error) {
		attempts++
		res, err := d.fetchOnce(ctx, url, dest)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		var netErr *errs.NetworkError
		if errors.As(err, &netErr) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(d.retryDelay)),
		backoff.WithMaxTries(d.retries),
		backoff.WithMaxElapsedTime(time.Duration(d.retries)*(d.transferTimeout+d.retryDelay)),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Warn("download attempt failed, retrying", "url", url, "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	res.Attempts = attempts
	res.Elapsed = time.Since(start)

	if expected == "" {
		res.Verification = verify.MethodNone
		d.logger.Warn("no published checksum, integrity unverified", "url", url)
		return res, nil
	}

	if !verify.EqualChecksum(res.SHA256, expected) {
		os.Remove(dest)
		return nil, &errs.ChecksumMismatchError{Path: dest, Expected: expected, Actual: res.SHA256}
	}
	res.Verification = verify.MethodSHA256
	d.logger.Debug("checksum verified", "url", url, "sha256", res.SHA256)
	return res, nil
}

// fetchOnce performs a single download attempt
func (d *Downloader) fetchOnce(ctx context.Context, url, dest string) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &errs.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &errs.NetworkError{URL: url, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &errs.UpstreamNotFoundError{URL: url, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &errs.NetworkError{URL: url, StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create dest dir: %w", err)
	}

	file, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create dest file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		file.Close()
		if cleanupNeeded {
			os.Remove(dest)
		}
	}()

	hasher := sha256.New()
	counter := &progressWriter{
		url:      url,
		total:    resp.ContentLength,
		start:    time.Now(),
		emit:     d.progress,
		throttle: &rate.Sometimes{Interval: d.progressInterval},
	}

	n, err := io.Copy(io.MultiWriter(file, hasher, counter), resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errs.NetworkError{URL: url, Err: err}
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return nil, &errs.NetworkError{URL: url, Err: fmt.Errorf("short body: %d of %d bytes", n, resp.ContentLength)}
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close dest file: %w", err)
	}
	counter.finish()

	cleanupNeeded = false
	return &Result{
		Path:   dest,
		Bytes:  n,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// progressWriter counts bytes and emits throttled progress events.
type progressWriter struct {
	url      string
	total    int64
	written  int64
	start    time.Time
	emit     func(Progress)
	throttle *rate.Sometimes
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.emit != nil {
		p.throttle.Do(func() {
			p.emit(Progress{URL: p.url, Bytes: p.written, Total: p.total, Elapsed: time.Since(p.start)})
		})
	}
	return len(b), nil
}

func (p *progressWriter) finish() {
	if p.emit != nil {
		p.emit(Progress{URL: p.url, Bytes: p.written, Total: p.total, Elapsed: time.Since(p.start), Done: true})
	}
}
