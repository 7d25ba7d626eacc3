package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/observability/logging"
)

const (
	BackendPDF       = "pdf"
	BackendPdftotext = "pdftotext"
	BackendText      = "text"

	LedgerNone = "none"
)

type Config struct {
	SourceDir        string   `yaml:"source_dir"`
	ShardDir         string   `yaml:"shard_dir"`
	CorpusName       string   `yaml:"corpus_name"`
	SourceExtensions []string `yaml:"source_extensions"`
	Limit            int      `yaml:"limit"`
	SpotCheckSample  int      `yaml:"spot_check_sample"`
	Workers          int      `yaml:"workers"`

	ExtractorBackend string        `yaml:"extractor_backend"`
	ExtractorTimeout time.Duration `yaml:"extractor_timeout"`
	PdftotextPath    string        `yaml:"pdftotext_path"`

	ExtractorRetryMaxAttempts    int           `yaml:"extractor_retry_max_attempts"`
	ExtractorRetryInitialBackoff time.Duration `yaml:"extractor_retry_initial_backoff"`
	ExtractorRetryMaxBackoff     time.Duration `yaml:"extractor_retry_max_backoff"`
	ExtractorBreakerEnabled      bool          `yaml:"extractor_breaker_enabled"`
	ExtractorBreakerMinRequests  int           `yaml:"extractor_breaker_min_requests"`
	ExtractorBreakerFailureRatio float64       `yaml:"extractor_breaker_failure_ratio"`
	ExtractorBreakerOpenTimeout  time.Duration `yaml:"extractor_breaker_open_timeout"`

	VerifyCompareMode string `yaml:"verify_compare_mode"`
	// VerifySeed fixes the spot-check sample; 0 picks a random seed.
	VerifySeed uint64 `yaml:"verify_seed"`

	LedgerDriver string `yaml:"ledger_driver"`
	// LedgerDSN defaults to a hidden SQLite file inside ShardDir.
	LedgerDSN          string `yaml:"ledger_dsn"`
	LedgerRetryCeiling int    `yaml:"ledger_retry_ceiling"`

	NATSURL            string `yaml:"nats_url"`
	NATSShardSubject   string `yaml:"nats_shard_subject"`
	NATSSourcesSubject string `yaml:"nats_sources_subject"`

	MetricsTextfile       string `yaml:"metrics_textfile"`
	MetricsPushgatewayURL string `yaml:"metrics_pushgateway_url"`

	WatchDebounce time.Duration `yaml:"watch_debounce"`
	WatchInterval time.Duration `yaml:"watch_interval"`
	HTTPAddr      string        `yaml:"http_addr"`

	ReportXLSX string `yaml:"report_xlsx"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		ShardDir:         "./data/corpus",
		CorpusName:       "filings",
		SourceExtensions: []string{".pdf"},
		Workers:          4,

		ExtractorBackend: BackendPDF,
		ExtractorTimeout: 2 * time.Minute,
		PdftotextPath:    "pdftotext",

		ExtractorRetryMaxAttempts:    2,
		ExtractorRetryInitialBackoff: 200 * time.Millisecond,
		ExtractorRetryMaxBackoff:     2 * time.Second,
		ExtractorBreakerEnabled:      true,
		ExtractorBreakerMinRequests:  20,
		ExtractorBreakerFailureRatio: 0.8,
		ExtractorBreakerOpenTimeout:  time.Minute,

		VerifyCompareMode: string(domain.CompareStrict),

		LedgerDriver: "sqlite",

		NATSShardSubject:   "corpus.shard.created",
		NATSSourcesSubject: "sources.updated",

		WatchDebounce: 2 * time.Second,
		WatchInterval: time.Hour,
		HTTPAddr:      ":9090",

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load layers the YAML file at path (optional) and then the environment over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.SourceDir = mustEnv("CORPUS_SOURCE_DIR", cfg.SourceDir)
	cfg.ShardDir = mustEnv("CORPUS_SHARD_DIR", cfg.ShardDir)
	cfg.CorpusName = mustEnv("CORPUS_NAME", cfg.CorpusName)
	cfg.SourceExtensions = mustEnvList("CORPUS_SOURCE_EXTENSIONS", cfg.SourceExtensions)
	cfg.Limit = mustEnvInt("CORPUS_LIMIT", cfg.Limit)
	cfg.SpotCheckSample = mustEnvInt("CORPUS_SPOT_CHECK_SAMPLE", cfg.SpotCheckSample)
	cfg.Workers = mustEnvInt("CORPUS_WORKERS", cfg.Workers)

	cfg.ExtractorBackend = mustEnv("EXTRACTOR_BACKEND", cfg.ExtractorBackend)
	cfg.ExtractorTimeout = mustEnvDuration("EXTRACTOR_TIMEOUT", cfg.ExtractorTimeout)
	cfg.PdftotextPath = mustEnv("PDFTOTEXT_PATH", cfg.PdftotextPath)

	cfg.ExtractorRetryMaxAttempts = mustEnvInt("EXTRACTOR_RETRY_MAX_ATTEMPTS", cfg.ExtractorRetryMaxAttempts)
	cfg.ExtractorRetryInitialBackoff = mustEnvDuration("EXTRACTOR_RETRY_INITIAL_BACKOFF", cfg.ExtractorRetryInitialBackoff)
	cfg.ExtractorRetryMaxBackoff = mustEnvDuration("EXTRACTOR_RETRY_MAX_BACKOFF", cfg.ExtractorRetryMaxBackoff)
	cfg.ExtractorBreakerEnabled = mustEnvBool("EXTRACTOR_BREAKER_ENABLED", cfg.ExtractorBreakerEnabled)
	cfg.ExtractorBreakerMinRequests = mustEnvInt("EXTRACTOR_BREAKER_MIN_REQUESTS", cfg.ExtractorBreakerMinRequests)
	cfg.ExtractorBreakerFailureRatio = mustEnvFloat("EXTRACTOR_BREAKER_FAILURE_RATIO", cfg.ExtractorBreakerFailureRatio)
	cfg.ExtractorBreakerOpenTimeout = mustEnvDuration("EXTRACTOR_BREAKER_OPEN_TIMEOUT", cfg.ExtractorBreakerOpenTimeout)

	cfg.VerifyCompareMode = mustEnv("VERIFY_COMPARE_MODE", cfg.VerifyCompareMode)
	cfg.VerifySeed = mustEnvUint64("VERIFY_SEED", cfg.VerifySeed)

	cfg.LedgerDriver = mustEnv("LEDGER_DRIVER", cfg.LedgerDriver)
	cfg.LedgerDSN = mustEnv("LEDGER_DSN", cfg.LedgerDSN)
	cfg.LedgerRetryCeiling = mustEnvInt("LEDGER_RETRY_CEILING", cfg.LedgerRetryCeiling)

	cfg.NATSURL = mustEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSShardSubject = mustEnv("NATS_SHARD_SUBJECT", cfg.NATSShardSubject)
	cfg.NATSSourcesSubject = mustEnv("NATS_SOURCES_SUBJECT", cfg.NATSSourcesSubject)

	cfg.MetricsTextfile = mustEnv("METRICS_TEXTFILE", cfg.MetricsTextfile)
	cfg.MetricsPushgatewayURL = mustEnv("METRICS_PUSHGATEWAY_URL", cfg.MetricsPushgatewayURL)

	cfg.WatchDebounce = mustEnvDuration("WATCH_DEBOUNCE", cfg.WatchDebounce)
	cfg.WatchInterval = mustEnvDuration("WATCH_INTERVAL", cfg.WatchInterval)
	cfg.HTTPAddr = mustEnv("HTTP_ADDR", cfg.HTTPAddr)

	cfg.ReportXLSX = mustEnv("REPORT_XLSX", cfg.ReportXLSX)

	cfg.LogLevel = mustEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = mustEnv("LOG_FORMAT", cfg.LogFormat)
}

var corpusNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ShardDir) == "" {
		errs = append(errs, errors.New("shard_dir is required"))
	}
	if !corpusNamePattern.MatchString(c.CorpusName) {
		errs = append(errs, fmt.Errorf("corpus_name %q must match %s", c.CorpusName, corpusNamePattern))
	}
	if c.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must be >= 0, got %d", c.Limit))
	}
	if c.SpotCheckSample < 0 {
		errs = append(errs, fmt.Errorf("spot_check_sample must be >= 0, got %d", c.SpotCheckSample))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be > 0, got %d", c.Workers))
	}
	switch c.ExtractorBackend {
	case BackendPDF, BackendPdftotext, BackendText:
	default:
		errs = append(errs, fmt.Errorf("unknown extractor_backend %q", c.ExtractorBackend))
	}
	if c.ExtractorTimeout < 0 {
		errs = append(errs, fmt.Errorf("extractor_timeout must be >= 0, got %s", c.ExtractorTimeout))
	}
	if _, ok := domain.ParseCompareMode(c.VerifyCompareMode); !ok {
		errs = append(errs, fmt.Errorf("unknown verify_compare_mode %q", c.VerifyCompareMode))
	}
	switch c.LedgerDriver {
	case "sqlite", "pgx", LedgerNone:
	default:
		errs = append(errs, fmt.Errorf("unknown ledger_driver %q", c.LedgerDriver))
	}
	if c.LedgerDriver == "pgx" && c.LedgerDSN == "" {
		errs = append(errs, errors.New("ledger_dsn is required for the pgx driver"))
	}
	if c.LedgerRetryCeiling < 0 {
		errs = append(errs, fmt.Errorf("ledger_retry_ceiling must be >= 0, got %d", c.LedgerRetryCeiling))
	}
	if c.WatchDebounce < 0 || c.WatchInterval < 0 {
		errs = append(errs, errors.New("watch durations must be >= 0"))
	}
	if !logging.ValidFormat(c.LogFormat) {
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if len(errs) == 0 {
		return nil
	}
	return domain.WrapError(domain.ErrInvalidInput, "config", errors.Join(errs...))
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvUint64(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func mustEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
