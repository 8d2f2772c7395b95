package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hnmirror/hn-mirror/pkg/utils"
)

const (
	defaultBaseURL        = "https://news.ycombinator.com/"
	defaultPollInterval   = 600 * time.Second
	defaultFetchTimeout   = 10 * time.Second
	defaultOutputDir      = "./results"
	defaultStateDir       = "./crawler_state"
	defaultUserAgent      = "hn-mirror/1.0"
	defaultMaxConcurrency = 16
	defaultMaxEntries     = 10000
	defaultRetention      = 7 * 24 * time.Hour
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// BaseURL
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	u, parseErr := url.Parse(c.BaseURL)
	if parseErr != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return warnings, fmt.Errorf("%w: base_url %q must be an absolute http(s) URL", utils.ErrConfigValidation, c.BaseURL)
	}
	// Relative story links and item?id= are resolved against the base, which
	// only behaves like a directory when it ends in a slash.
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		c.BaseURL = u.String()
	}

	// PollInterval
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	} else if c.PollInterval < 30*time.Second {
		warnings = append(warnings, fmt.Sprintf("poll_interval %v is very short; the listing site may throttle", c.PollInterval))
	}

	// FetchTimeout
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}

	// OutputDir
	if c.OutputDir == "" {
		warnings = append(warnings, fmt.Sprintf("output_dir is empty, defaulting to '%s'", defaultOutputDir))
		c.OutputDir = defaultOutputDir
	}

	// StateDir
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}

	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}

	// MaxConcurrency: zero means "not set"; negative is the explicit opt-in to no cap
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	} else if c.MaxConcurrency < 0 {
		warnings = append(warnings, "max_concurrency is negative: fan-out fetches are unlimited")
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost < 0 {
		warnings = append(warnings, "max_requests_per_host cannot be negative, setting to 0 (unlimited)")
		c.MaxRequestsPerHost = 0
	}

	// DelayPerHost
	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, disabling delay")
		c.DelayPerHost = 0
	}
	if c.MaxRequestsPerSecond < 0 {
		warnings = append(warnings, "max_requests_per_second cannot be negative, setting to 0 (unlimited)")
		c.MaxRequestsPerSecond = 0
	}

	// CommentFileNaming
	switch c.CommentFileNaming {
	case "":
		c.CommentFileNaming = NamingHash
	case NamingHash:
	case NamingRandom:
		warnings = append(warnings, "comment_file_naming 'random' can silently overwrite documents from the same thread")
	default:
		return warnings, fmt.Errorf("%w: comment_file_naming must be '%s' or '%s', got %q",
			utils.ErrConfigValidation, NamingHash, NamingRandom, c.CommentFileNaming)
	}

	// CommentFailurePolicy
	switch c.CommentFailurePolicy {
	case "":
		c.CommentFailurePolicy = PolicyContain
	case PolicyContain, PolicyPropagate:
	default:
		return warnings, fmt.Errorf("%w: comment_failure_policy must be '%s' or '%s', got %q",
			utils.ErrConfigValidation, PolicyContain, PolicyPropagate, c.CommentFailurePolicy)
	}

	// Dedup
	dw, derr := c.Dedup.validate()
	warnings = append(warnings, dw...)
	if derr != nil {
		return warnings, derr
	}

	c.Selectors.applyDefaults()
	c.validateHTTPClientSettings()

	return warnings, nil
}

func (d *DedupConfig) validate() (warnings []string, err error) {
	switch d.Backend {
	case "":
		d.Backend = DedupMemory
	case DedupMemory, DedupBadger:
	default:
		return nil, fmt.Errorf("%w: dedup.backend must be '%s' or '%s', got %q",
			utils.ErrConfigValidation, DedupMemory, DedupBadger, d.Backend)
	}

	if d.MaxEntries == 0 {
		d.MaxEntries = defaultMaxEntries
	} else if d.MaxEntries < 0 && d.Backend == DedupMemory {
		warnings = append(warnings, "dedup.max_entries is negative: the in-memory identifier set grows without bound")
	}

	if d.Retention < 0 {
		warnings = append(warnings, "dedup.retention cannot be negative, using default")
		d.Retention = 0
	}
	if d.Retention == 0 {
		d.Retention = defaultRetention
	}
	return warnings, nil
}

func (s *SelectorConfig) applyDefaults() {
	if s.StoryRow == "" {
		s.StoryRow = "tr.athing"
	}
	if s.StoryLink == "" {
		s.StoryLink = "span.titleline > a"
	}
	if s.CommentText == "" {
		s.CommentText = ".commtext.c00"
	}
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 10 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}
