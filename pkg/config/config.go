package config

import "time"

// Comment-file naming schemes
const (
	NamingHash   = "hash"   // sha256 of the resolved link, stable across cycles
	NamingRandom = "random" // two-digit random number, collisions overwrite silently
)

// Comment-round failure policies
const (
	PolicyContain   = "contain"   // comments-page failures are logged per item
	PolicyPropagate = "propagate" // first comments-page failure cancels the round and fails the cycle
)

// Dedup store backends
const (
	DedupMemory = "memory"
	DedupBadger = "badger"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	BaseURL              string           `yaml:"base_url"`
	PollInterval         time.Duration    `yaml:"poll_interval"`
	FetchTimeout         time.Duration    `yaml:"fetch_timeout"`
	OutputDir            string           `yaml:"output_dir"`
	StateDir             string           `yaml:"state_dir"`
	UserAgent            string           `yaml:"user_agent,omitempty"`
	InsecureSkipVerify   *bool            `yaml:"insecure_skip_verify,omitempty"` // nil = default (true)
	MaxConcurrency       int              `yaml:"max_concurrency"`                // Global in-flight fetches; negative = unlimited
	MaxRequestsPerHost   int              `yaml:"max_requests_per_host"`          // 0 = unlimited
	DelayPerHost         time.Duration    `yaml:"delay_per_host,omitempty"`
	MaxRequestsPerSecond float64          `yaml:"max_requests_per_second,omitempty"` // all hosts together; 0 = unlimited
	RespectRobots        bool             `yaml:"respect_robots,omitempty"`
	MarkdownSidecar      bool             `yaml:"markdown_sidecar,omitempty"`
	URLMapping           *bool            `yaml:"url_mapping,omitempty"` // nil = default (true)
	CommentFileNaming    string           `yaml:"comment_file_naming,omitempty"`
	CommentFailurePolicy string           `yaml:"comment_failure_policy,omitempty"`
	ContinueOnCycleError bool             `yaml:"continue_on_cycle_error,omitempty"`
	MetricsAddr          string           `yaml:"metrics_addr,omitempty"` // empty = no metrics endpoint
	Dedup                DedupConfig      `yaml:"dedup,omitempty"`
	Selectors            SelectorConfig   `yaml:"selectors,omitempty"`
	HTTPClientSettings   HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// DedupConfig selects and bounds the store of previously discovered identifiers
type DedupConfig struct {
	Backend    string        `yaml:"backend,omitempty"`
	MaxEntries int           `yaml:"max_entries,omitempty"` // memory backend; negative = unbounded
	Retention  time.Duration `yaml:"retention,omitempty"`   // badger backend TTL
}

// SelectorConfig holds the CSS selectors used by the HTML link extractor
type SelectorConfig struct {
	StoryRow    string `yaml:"story_row,omitempty"`
	StoryLink   string `yaml:"story_link,omitempty"`
	CommentText string `yaml:"comment_text,omitempty"`
}

// HTTPClientConfig holds settings for the per-cycle HTTP client
type HTTPClientConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`
}

// SkipTLSVerify resolves the tri-state InsecureSkipVerify setting.
// Certificate verification is off unless explicitly enabled: the mirrored pages
// are public and unauthenticated.
func (c *AppConfig) SkipTLSVerify() bool {
	if c.InsecureSkipVerify != nil {
		return *c.InsecureSkipVerify
	}
	return true
}

// WriteURLMapping resolves the tri-state URLMapping setting (default true).
func (c *AppConfig) WriteURLMapping() bool {
	if c.URLMapping != nil {
		return *c.URLMapping
	}
	return true
}

// UnlimitedConcurrency reports whether fan-out fetches run without a global cap.
func (c *AppConfig) UnlimitedConcurrency() bool {
	return c.MaxConcurrency < 0
}

// Default returns an AppConfig with every default applied.
func Default() *AppConfig {
	cfg := &AppConfig{}
	_, _ = cfg.Validate()
	return cfg
}
