package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Redis           RedisConfig           `yaml:"redis"`
	Provider        ProviderConfig        `yaml:"provider"`
	Poller          PollerConfig          `yaml:"poller"`
	Quota           QuotaConfig           `yaml:"quota"`
	Rates           RatesConfig           `yaml:"rates"`
	Admin           AdminConfig           `yaml:"admin"`
	PublicRateLimit PublicRateLimitConfig `yaml:"public_rate_limit"`
	Kafka           KafkaConfig           `yaml:"kafka"`
	Retention       RetentionConfig       `yaml:"retention"`
	Telemetry       TelemetryConfig       `yaml:"telemetry"`
	Log             LogConfig             `yaml:"log"`
}

type ServerConfig struct {
	Port            string        `yaml:"port" env:"PORT" env-default:"8080"`
	Environment     string        `yaml:"environment" env:"ENVIRONMENT" env-default:"development"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"10s"`
}

type DatabaseConfig struct {
	DSN            string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns   int    `yaml:"max_open_conns" env-default:"50"`
	MaxIdleConns   int    `yaml:"max_idle_conns" env-default:"10"`
	SkipMigrations bool   `yaml:"skip_migrations" env:"SKIP_MIGRATIONS"`
}

type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

type ProviderConfig struct {
	BaseURL string `yaml:"base_url" env:"PROVIDER_BASE_URL" env-default:"https://api.twelvedata.com"`
	// Comma separated in the environment.
	APIKeys           []string      `yaml:"api_keys" env:"API_KEYS" env-separator:","`
	RequestsPerKey    int           `yaml:"requests_per_key" env:"REQUESTS_PER_KEY" env-default:"2"`
	Timeout           time.Duration `yaml:"timeout" env:"PROVIDER_TIMEOUT" env-default:"10s"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"PROVIDER_RPM" env-default:"0"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" env-default:"5"`
	OpenTimeout time.Duration `yaml:"open_timeout" env-default:"30s"`
}

type PollerConfig struct {
	Disabled     bool          `yaml:"disabled" env:"POLLER_DISABLED"`
	Interval     time.Duration `yaml:"interval" env:"POLL_INTERVAL" env-default:"5m"`
	BaseCurrency string        `yaml:"base_currency" env:"BASE_CURRENCY" env-default:"USD"`
	Currencies   []string      `yaml:"currencies" env:"CURRENCIES" env-separator:","`
}

// Pairs returns base/currency for every configured currency except the base itself.
func (p PollerConfig) Pairs() [][2]string {
	base := strings.ToUpper(strings.TrimSpace(p.BaseCurrency))
	pairs := make([][2]string, 0, len(p.Currencies))
	seen := make(map[string]bool, len(p.Currencies))
	for _, c := range p.Currencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || c == base || seen[c] {
			continue
		}
		seen[c] = true
		pairs = append(pairs, [2]string{base, c})
	}
	return pairs
}

type QuotaConfig struct {
	TimeZone string `yaml:"time_zone" env:"QUOTA_TIME_ZONE" env-default:"UTC"`
}

func (q QuotaConfig) Location() (*time.Location, error) {
	return time.LoadLocation(q.TimeZone)
}

type RatesConfig struct {
	MaxRangeRows int64 `yaml:"max_range_rows" env-default:"500"`
	// TTL of the Redis snapshot backing GET /rates.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env-default:"1m"`
}

type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

type PublicRateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" env:"PUBLIC_RPM" env-default:"60"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"rate.updated"`
}

type RetentionConfig struct {
	RequestLogDays int `yaml:"request_log_days" env:"REQUEST_LOG_RETENTION_DAYS" env-default:"30"`
	// Standard cron expression. Empty disables pruning.
	Schedule string `yaml:"schedule" env:"RETENTION_SCHEDULE" env-default:"0 3 * * *"`
}

func (r RetentionConfig) Period() time.Duration {
	return time.Duration(r.RequestLogDays) * 24 * time.Hour
}

type TelemetryConfig struct {
	// "stdout", "otlp" or "none"
	ExporterType     string `yaml:"exporter_type" env:"OTEL_EXPORTER_TYPE" env-default:"none"`
	ExporterEndpoint string `yaml:"exporter_endpoint" env:"OTEL_EXPORTER_ENDPOINT" env-default:"localhost:4317"`
	ServiceName      string `yaml:"service_name" env-default:"fx-gateway"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads the YAML file at path with environment overrides. When the file
// does not exist only the environment is used.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if len(nonEmpty(c.Provider.APIKeys)) == 0 {
		errs = append(errs, errors.New("provider.api_keys must contain at least one key"))
	}
	if c.Provider.RequestsPerKey < 1 {
		errs = append(errs, errors.New("provider.requests_per_key must be >= 1"))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("provider.timeout must be positive"))
	}
	if !c.Poller.Disabled {
		if c.Poller.Interval <= 0 {
			errs = append(errs, errors.New("poller.interval must be positive"))
		}
		if len(c.Poller.Pairs()) == 0 {
			errs = append(errs, errors.New("poller.currencies must name at least one currency other than the base"))
		}
	}
	if _, err := c.Quota.Location(); err != nil {
		errs = append(errs, fmt.Errorf("quota.time_zone: %w", err))
	}
	if c.Rates.MaxRangeRows < 1 {
		errs = append(errs, errors.New("rates.max_range_rows must be >= 1"))
	}
	if c.Retention.RequestLogDays < 0 {
		errs = append(errs, errors.New("retention.request_log_days must not be negative"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	return errors.Join(errs...)
}

// ProviderKeys returns the configured provider keys with blanks removed.
func (c *Config) ProviderKeys() []string {
	return nonEmpty(c.Provider.APIKeys)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
