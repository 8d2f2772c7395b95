package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/utils"
)

// HTTPFetcher retrieves one document as text.
type HTTPFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Fetcher performs single-attempt GET requests bounded by a timeout budget.
// Concurrency is capped by an optional global semaphore and per-host pool;
// there is no retry.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	userAgent   string
	globalSem   *semaphore.Weighted // nil = unlimited
	hostSemPool *HostSemaphorePool  // nil = unlimited
	rateLimiter *RateLimiter        // nil = no per-host delay
	throttle    *rate.Limiter       // nil = no global request rate
	log         *logrus.Entry
}

// NewFetcher creates a Fetcher for one poll cycle. The semaphores and rate
// limiter it builds live only as long as the cycle.
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	f := &Fetcher{
		client:    client,
		timeout:   cfg.FetchTimeout,
		userAgent: cfg.UserAgent,
		log:       log,
	}
	if !cfg.UnlimitedConcurrency() && cfg.MaxConcurrency > 0 {
		f.globalSem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	if cfg.MaxRequestsPerHost > 0 {
		f.hostSemPool = NewHostSemaphorePool(cfg.MaxRequestsPerHost, log)
	}
	if cfg.DelayPerHost > 0 {
		f.rateLimiter = NewRateLimiter(cfg.DelayPerHost, log)
	}
	if cfg.MaxRequestsPerSecond > 0 {
		burst := int(cfg.MaxRequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		f.throttle = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), burst)
	}
	return f
}

// Fetch retrieves rawURL and returns the whole body decoded to UTF-8.
// Any failure is returned as *utils.FetchError carrying the URL and cause.
// The timeout budget starts once concurrency slots have been acquired.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	reqLog := f.log.WithField("url", rawURL)

	target, err := url.Parse(rawURL)
	if err != nil {
		return "", &utils.FetchError{URL: rawURL, Err: utils.WrapErrorf(utils.ErrParsing, "invalid URL: %v", err)}
	}
	host := target.Hostname()

	// --- Concurrency slots ---
	if f.globalSem != nil {
		if err := f.globalSem.Acquire(ctx, 1); err != nil {
			return "", &utils.FetchError{URL: rawURL, Err: err}
		}
		defer f.globalSem.Release(1)
	}
	if f.hostSemPool != nil && host != "" {
		if err := f.hostSemPool.Acquire(ctx, host); err != nil {
			return "", &utils.FetchError{URL: rawURL, Err: err}
		}
		defer f.hostSemPool.Release(host)
	}
	if f.rateLimiter != nil && host != "" {
		if err := f.rateLimiter.Wait(ctx, host); err != nil {
			return "", &utils.FetchError{URL: rawURL, Err: err}
		}
	}
	if f.throttle != nil {
		if err := f.throttle.Wait(ctx); err != nil {
			return "", &utils.FetchError{URL: rawURL, Err: err}
		}
	}

	// --- Request under the timeout budget ---
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &utils.FetchError{URL: rawURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &utils.FetchError{URL: rawURL, Err: f.classify(reqCtx, ctx, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &utils.FetchError{
			URL: rawURL,
			Err: fmt.Errorf("%w: status %d %s", utils.ErrHTTPStatus, resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	// Decode using the declared (or sniffed) charset; fall back to raw bytes
	// when the label is unknown.
	var reader io.Reader = resp.Body
	if decoded, cerr := charset.NewReader(resp.Body, resp.Header.Get("Content-Type")); cerr == nil {
		reader = decoded
	} else {
		reqLog.Debugf("Unknown charset, keeping raw bytes: %v", cerr)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return "", &utils.FetchError{URL: rawURL, Err: f.classify(reqCtx, ctx, err)}
	}

	reqLog.WithFields(logrus.Fields{"status_code": resp.StatusCode, "bytes": len(body), "elapsed": time.Since(start)}).Debug("Fetched")
	return string(body), nil
}

// classify makes sure a failure caused by the fetch's own deadline unwraps to
// context.DeadlineExceeded, whatever error the transport surfaced.
func (f *Fetcher) classify(reqCtx, parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if parent.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %v", context.DeadlineExceeded, f.timeout, err)
	}
	return err
}
