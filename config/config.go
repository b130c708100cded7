package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fiffu/dealwatch/lib/fetcher"
	"github.com/fiffu/dealwatch/lib/ingest"
	"github.com/fiffu/dealwatch/lib/search"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"dealwatch.sqlite"`
	RedisURL       string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	CatalogFile    string `env:"CATALOG_FILE" envDefault:"catalog.yaml"`
	AlertRecipient string `env:"ALERT_RECIPIENT"`

	Ingest struct {
		TickInterval      time.Duration `env:"TICK_INTERVAL" envDefault:"1m"`
		SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
		MaxConcurrentRuns int           `env:"MAX_CONCURRENT_RUNS" envDefault:"8"`
		FetchTimeout      time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
		DegradedAfter     int           `env:"DEGRADED_AFTER" envDefault:"5"`
		DealMaxAge        time.Duration `env:"DEAL_MAX_AGE" envDefault:"336h"`
		ExpiredRetention  time.Duration `env:"EXPIRED_RETENTION" envDefault:"720h"`
		APIMaxPages       int           `env:"API_MAX_PAGES" envDefault:"10"`
		HostRateInterval  time.Duration `env:"HOST_RATE_INTERVAL" envDefault:"1s"`
		FeedCacheTTL      time.Duration `env:"FEED_CACHE_TTL" envDefault:"2m"`
	}
	Search struct {
		CacheVersion    int           `env:"SEARCH_CACHE_VERSION" envDefault:"1"`
		CacheTTL        time.Duration `env:"SEARCH_CACHE_TTL" envDefault:"6h"`
		ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s"`
		BudgetWindow    time.Duration `env:"BUDGET_WINDOW" envDefault:"24h"`
	}
	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		APIBase     string `env:"MAILGUN_API_BASE"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM" envDefault:"dealwatch <noreply@dealwatch.local>"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	log     *zap.Logger
	creds   map[string]string
	catalog *Catalog
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) (*Config, error) {
	return Load(log)
}

// Load reads the environment and the catalog file it names.
func Load(log *zap.Logger) (*Config, error) {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.IsDevelopment() {
			cfg.log.Sugar().Infof("%s (credentials will be set to default in development env)", err)
			creds = map[string]string{"admin": "password"}
		} else {
			cfg.log.Sugar().Warnw("Auth is disabled", "err", err)
		}
	}
	cfg.creds = creds

	catalog, err := LoadCatalog(cfg.CatalogFile)
	if errors.Is(err, ErrNoCatalog) {
		cfg.log.Sugar().Warnw("No catalog file, starting without sources or providers", "path", cfg.CatalogFile)
		catalog = &Catalog{}
	} else if err != nil {
		return nil, err
	}
	cfg.catalog = catalog

	return cfg, nil
}

func (cfg *Config) IsDevelopment() bool {
	return cfg.Env == "" || cfg.Env == "development"
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) Catalog() *Catalog {
	if cfg.catalog == nil {
		return &Catalog{}
	}
	return cfg.catalog
}

func (cfg *Config) IngestConfig() ingest.Config {
	return ingest.Config{
		TickInterval:      cfg.Ingest.TickInterval,
		SweepInterval:     cfg.Ingest.SweepInterval,
		FetchTimeout:      cfg.Ingest.FetchTimeout,
		MaxConcurrentRuns: cfg.Ingest.MaxConcurrentRuns,
		DegradedAfter:     cfg.Ingest.DegradedAfter,
		DealMaxAge:        cfg.Ingest.DealMaxAge,
		ExpiredRetention:  cfg.Ingest.ExpiredRetention,
	}
}

func (cfg *Config) FetcherOptions() fetcher.Options {
	return fetcher.Options{
		HostRateInterval: cfg.Ingest.HostRateInterval,
		APIMaxPages:      cfg.Ingest.APIMaxPages,
	}
}

func (cfg *Config) SearchOptions() search.Options {
	return search.Options{
		CacheVersion:    cfg.Search.CacheVersion,
		CacheTTL:        cfg.Search.CacheTTL,
		ProviderTimeout: cfg.Search.ProviderTimeout,
	}
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	if len(creds) == 0 {
		return nil, errors.New("BASIC_AUTH_CREDS envvar should be filled with comma-separated values -- user1:pass1,user2:pass2")
	}

	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
