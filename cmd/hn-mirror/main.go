package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/hnmirror/hn-mirror/pkg/config"
	"github.com/hnmirror/hn-mirror/pkg/crawler"
	"github.com/hnmirror/hn-mirror/pkg/metrics"
	"github.com/hnmirror/hn-mirror/pkg/storage"
	"github.com/hnmirror/hn-mirror/pkg/watch"
)

const version = "1.0.0"

// seenLogFileName is written to state_dir by -write-seen-log
const seenLogFileName = "seen.txt"

// Environment overrides are HN_MIRROR_<KEY>, read from the process
// environment and then from the dotenv file.
const (
	envPrefix      = "HN_MIRROR_"
	defaultEnvFile = ".env"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runPoll(os.Args[2:])
	case "once":
		runOnce(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "seen":
		runSeen(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("hn-mirror %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `hn-mirror - News listing mirror

Usage:
  hn-mirror <command> [options]

Commands:
  run         Poll the listing forever, mirroring new stories and their comment links
  once        Run a single poll cycle and exit
  validate    Validate configuration file
  status      Show the last recorded cycle and totals
  seen        List or export discovered story identifiers
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'hn-mirror <command> -h' for command-specific help.`)
}

// commonFlags are shared by every command that loads the configuration
type commonFlags struct {
	configFile string
	envFile    string
	logLevel   string
	baseURL    string
	interval   string
	output     string
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configFile, "config", "", "Path to YAML config file (optional, every key has a default)")
	fs.StringVar(&c.envFile, "env-file", "", "Dotenv file with "+envPrefix+"* overrides (default ./"+defaultEnvFile+" when present)")
	fs.StringVar(&c.logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&c.baseURL, "base-url", "", "Listing page URL (overrides base_url)")
	fs.StringVar(&c.interval, "interval", "", "Poll interval, e.g. 600, 10m, 1h (overrides poll_interval)")
	fs.StringVar(&c.output, "output", "", "Output directory (overrides output_dir)")
	return c
}

// loadConfig loads and parses the config file. An empty path yields an
// empty config so that Validate applies every default.
func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		return &config.AppConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// envLookup resolves one override key, process environment first
type envLookup func(key string) (string, bool)

// loadEnv reads the dotenv file. An explicit path must exist; the default
// file is optional.
func loadEnv(path string) (envLookup, error) {
	fileVals := map[string]string{}
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	vals, err := godotenv.Read(path)
	switch {
	case err == nil:
		fileVals = vals
	case explicit || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read env file: %w", err)
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}, nil
}

// applyEnv applies HN_MIRROR_* overrides on top of the file values
func applyEnv(cfg *config.AppConfig, lookup envLookup) error {
	strs := map[string]*string{
		"BASE_URL":     &cfg.BaseURL,
		"OUTPUT_DIR":   &cfg.OutputDir,
		"STATE_DIR":    &cfg.StateDir,
		"USER_AGENT":   &cfg.UserAgent,
		"METRICS_ADDR": &cfg.MetricsAddr,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup(envPrefix + "POLL_INTERVAL"); ok && v != "" {
		d, err := watch.ParseInterval(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", envPrefix, err)
		}
		cfg.PollInterval = d
	}
	return nil
}

// applyOverrides applies command-line flags on top of the file values
func applyOverrides(cfg *config.AppConfig, c *commonFlags) error {
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if c.output != "" {
		cfg.OutputDir = c.output
	}
	if c.interval != "" {
		d, err := watch.ParseInterval(c.interval)
		if err != nil {
			return err
		}
		if d <= 0 {
			return fmt.Errorf("interval must be positive, got %s", c.interval)
		}
		cfg.PollInterval = d
	}
	return nil
}

// loadEffectiveConfig layers the config file, environment overrides and flag
// overrides, then validates. Warnings are returned for the caller to report.
func loadEffectiveConfig(c *commonFlags) (*config.AppConfig, []string, error) {
	appCfg, err := loadConfig(c.configFile)
	if err != nil {
		return nil, nil, err
	}
	lookup, err := loadEnv(c.envFile)
	if err != nil {
		return nil, nil, err
	}
	if err := applyEnv(appCfg, lookup); err != nil {
		return nil, nil, err
	}
	if err := applyOverrides(appCfg, c); err != nil {
		return nil, nil, err
	}
	warnings, err := appCfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return appCfg, warnings, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006.01.02 15:04:05"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runPoll handles the run subcommand
func runPoll(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common := registerCommonFlags(fs)
	writeSeenLog := fs.Bool("write-seen-log", false, "Write discovered identifiers to <state_dir>/"+seenLogFileName+" on exit")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090 (overrides metrics_addr)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hn-mirror run [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hn-mirror run\n")
		fmt.Fprintf(os.Stderr, "  hn-mirror run -config hn.yaml -interval 5m -output ./mirror\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()
	os.Exit(doRun(ctx, common, runOptions{writeSeenLog: *writeSeenLog, metricsAddr: *metricsAddr}, os.Stderr))
}

// runOptions are the flags specific to the run subcommand
type runOptions struct {
	writeSeenLog bool
	metricsAddr  string
}

// doRun runs the poll loop until ctx is cancelled or a cycle error stops it.
// Returns exit code (0 = clean or interrupted, 1 = fatal).
func doRun(ctx context.Context, common *commonFlags, opts runOptions, stderr io.Writer) int {
	log := setupLogger(common.logLevel, stderr)

	appCfg, warnings, err := loadEffectiveConfig(common)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)

	store, err := storage.NewSeenStore(appCfg, log.WithField("component", "dedup"))
	if err != nil {
		log.Errorf("Failed to open dedup store: %v", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Error closing dedup store: %v", err)
		}
	}()

	c, err := crawler.NewCrawler(appCfg, store, log.WithField("component", "crawler"))
	if err != nil {
		log.Errorf("Failed to initialize crawler: %v", err)
		return 1
	}

	scheduler := watch.NewScheduler(c, appCfg.PollInterval, appCfg.ContinueOnCycleError,
		watch.NewStateManager(appCfg.StateDir), log.WithField("component", "scheduler"))
	if gc, ok := store.(storage.GarbageCollector); ok {
		scheduler.WithGarbageCollector(gc)
	}

	if opts.metricsAddr != "" {
		appCfg.MetricsAddr = opts.metricsAddr
	}
	if appCfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		scheduler.WithObserver(metrics.NewMetrics(reg))

		metricsCtx, stopMetrics := context.WithCancel(ctx)
		metricsDone := make(chan struct{})
		go func() {
			defer close(metricsDone)
			if err := metrics.Serve(metricsCtx, appCfg.MetricsAddr, reg, log.WithField("component", "metrics")); err != nil {
				log.Errorf("Metrics endpoint stopped: %v", err)
			}
		}()
		defer func() {
			stopMetrics()
			<-metricsDone
		}()
	}

	runErr := scheduler.Run(ctx)

	if opts.writeSeenLog {
		path := filepath.Join(appCfg.StateDir, seenLogFileName)
		if err := os.MkdirAll(appCfg.StateDir, 0755); err != nil {
			log.Errorf("Error creating state directory: %v", err)
		} else if err := store.WriteSeenLog(path); err != nil {
			log.Errorf("Error writing seen log: %v", err)
		}
	}

	if runErr != nil {
		log.Errorf("Crawler stopped: %v", runErr)
		return 1
	}
	log.Info("Crawler stopped")
	return 0
}

// runOnce handles the once subcommand
func runOnce(args []string) {
	fs := flag.NewFlagSet("once", flag.ExitOnError)
	common := registerCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hn-mirror once [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()
	os.Exit(doOnce(ctx, common, os.Stdout, os.Stderr))
}

// doOnce runs a single cycle, records it and prints its summary.
// Returns exit code (0 = success, 1 = error).
func doOnce(ctx context.Context, common *commonFlags, stdout, stderr io.Writer) int {
	log := setupLogger(common.logLevel, stderr)

	appCfg, warnings, err := loadEffectiveConfig(common)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}

	store, err := storage.NewSeenStore(appCfg, log.WithField("component", "dedup"))
	if err != nil {
		log.Errorf("Failed to open dedup store: %v", err)
		return 1
	}
	defer store.Close()

	c, err := crawler.NewCrawler(appCfg, store, log.WithField("component", "crawler"))
	if err != nil {
		log.Errorf("Failed to initialize crawler: %v", err)
		return 1
	}

	result, cycleErr := c.RunCycle(ctx)
	if errors.Is(cycleErr, context.Canceled) {
		log.Warn("Cycle cancelled")
		return 0
	}

	state := watch.NewStateManager(appCfg.StateDir)
	if err := state.Load(); err != nil {
		log.Warnf("Failed to load crawler state: %v (starting fresh)", err)
	}
	state.Record(result)
	if err := state.Save(); err != nil {
		log.Errorf("Failed to save crawler state: %v", err)
	}

	printCycle(stdout, result)
	if cycleErr != nil {
		return 1
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	common := registerCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hn-mirror validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(common, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(common *commonFlags, stdout, stderr io.Writer) int {
	appCfg, warnings, err := loadEffectiveConfig(common)
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "base_url:               %s\n", appCfg.BaseURL)
	fmt.Fprintf(stdout, "poll_interval:          %s\n", watch.FormatInterval(appCfg.PollInterval))
	fmt.Fprintf(stdout, "fetch_timeout:          %v\n", appCfg.FetchTimeout)
	fmt.Fprintf(stdout, "output_dir:             %s\n", appCfg.OutputDir)
	fmt.Fprintf(stdout, "state_dir:              %s\n", appCfg.StateDir)
	fmt.Fprintf(stdout, "dedup:                  %s\n", dedupSummary(appCfg))
	fmt.Fprintf(stdout, "comment_file_naming:    %s\n", appCfg.CommentFileNaming)
	fmt.Fprintf(stdout, "comment_failure_policy: %s\n", appCfg.CommentFailurePolicy)
	if appCfg.MaxRequestsPerSecond > 0 {
		fmt.Fprintf(stdout, "max_requests_per_sec:   %g\n", appCfg.MaxRequestsPerSecond)
	}
	if appCfg.MetricsAddr != "" {
		fmt.Fprintf(stdout, "metrics_addr:           %s\n", appCfg.MetricsAddr)
	}
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

func dedupSummary(appCfg *config.AppConfig) string {
	if appCfg.Dedup.Backend == config.DedupBadger {
		return fmt.Sprintf("badger (retention %v)", appCfg.Dedup.Retention)
	}
	if appCfg.Dedup.MaxEntries < 0 {
		return "memory (unbounded)"
	}
	return fmt.Sprintf("memory (max %d entries)", appCfg.Dedup.MaxEntries)
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: BaseURL:%s, PollInterval:%v, FetchTimeout:%v, InsecureSkipVerify:%t",
		appCfg.BaseURL, appCfg.PollInterval, appCfg.FetchTimeout, appCfg.SkipTLSVerify())
	log.Infof("Config: OutputDir:%s, StateDir:%s, MaxConcurrency:%d, MaxReqPerHost:%d, DelayPerHost:%v, MaxReqPerSec:%g",
		appCfg.OutputDir, appCfg.StateDir, appCfg.MaxConcurrency, appCfg.MaxRequestsPerHost, appCfg.DelayPerHost, appCfg.MaxRequestsPerSecond)
	log.Infof("Config: CommentFileNaming:%s, CommentFailurePolicy:%s, ContinueOnCycleError:%t, Dedup:%s",
		appCfg.CommentFileNaming, appCfg.CommentFailurePolicy, appCfg.ContinueOnCycleError, dedupSummary(appCfg))
	log.Infof("Config: RespectRobots:%t, MarkdownSidecar:%t, URLMapping:%t",
		appCfg.RespectRobots, appCfg.MarkdownSidecar, appCfg.WriteURLMapping())
}
