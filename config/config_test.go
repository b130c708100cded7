package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/scorer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const catalogYAML = `
sources:
  - name: slickdeals
    type: rss
    endpoint: https://slickdeals.net/newsearch.php?rss=1
    poll_interval: 10m
  - name: bestbuy-affiliate
    type: affiliate
    enabled: false
    endpoint: https://feeds.example.com/bestbuy.xml
    merchant: BestBuy
providers:
  - name: shopfinder
    endpoint: https://api.shopfinder.example/search
    budget: 100
    requests_per_second: 2
    headers:
      X-Api-Key: secret
scoring:
  weights:
    discount: 0.5
    savings: 0.1
    merchant: 0.2
    category: 0.1
    popularity: 0.1
  merchant_tiers:
    BestBuy: trusted
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("BASIC_AUTH_CREDS", "")
	t.Setenv("CATALOG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "dealwatch.sqlite", cfg.DatabasePath)
	assert.Equal(t, time.Minute, cfg.Ingest.TickInterval)
	assert.Equal(t, 336*time.Hour, cfg.Ingest.DealMaxAge)
	assert.Equal(t, 6*time.Hour, cfg.Search.CacheTTL)
	assert.Equal(t, map[string]string{"admin": "password"}, cfg.GetCreds())
	assert.Empty(t, cfg.Catalog().Sources)

	ic := cfg.IngestConfig()
	assert.Equal(t, 8, ic.MaxConcurrentRuns)
	assert.Equal(t, 5, ic.DegradedAfter)
	assert.Equal(t, 10, cfg.FetcherOptions().APIMaxPages)
	assert.Equal(t, 5*time.Second, cfg.SearchOptions().ProviderTimeout)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("BASIC_AUTH_CREDS", "alice:pw1, bob : pw2")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("TICK_INTERVAL", "30s")
	t.Setenv("CATALOG_FILE", writeCatalog(t, catalogYAML))

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, 30*time.Second, cfg.Ingest.TickInterval)
	assert.Equal(t, map[string]string{"alice": "pw1", "bob": "pw2"}, cfg.GetCreds())
	assert.Len(t, cfg.Catalog().Sources, 2)
}

func TestLoad_ProductionWithoutCredsDisablesAuth(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("BASIC_AUTH_CREDS", "")
	t.Setenv("CATALOG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, cfg.GetCreds())
}

func TestParseCreds(t *testing.T) {
	cfg := &Config{BasicAuthCreds: "u1:p1,broken"}
	_, err := cfg.parseCreds()
	assert.ErrorContains(t, err, "broken")
}

func TestCatalog(t *testing.T) {
	cat, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	sources := cat.SourceModels()
	require.Len(t, sources, 2)
	assert.Equal(t, models.SourceTypeRSS, sources[0].Type)
	assert.True(t, sources[0].Enabled)
	assert.Equal(t, 10*time.Minute, sources[0].PollInterval)
	assert.False(t, sources[1].Enabled)
	assert.Equal(t, DefaultPollInterval, sources[1].PollInterval)
	assert.Equal(t, "BestBuy", sources[1].Merchant)

	assert.Equal(t, map[string]int{"shopfinder": 100}, cat.Budgets())
	assert.Equal(t, "secret", cat.Providers[0].Headers["X-Api-Key"])

	policy := cat.ScoringPolicy()
	assert.Equal(t, 0.5, policy.Weights.Discount)
	assert.Equal(t, scorer.TierTrusted, policy.MerchantTiers["BestBuy"])
}

func TestCatalog_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown type": "sources:\n  - {name: a, type: gopher, endpoint: https://a}\n",
		"duplicate":    "sources:\n  - {name: a, type: rss, endpoint: https://a}\n  - {name: a, type: rss, endpoint: https://b}\n",
		"no endpoint":  "sources:\n  - {name: a, type: rss}\n",
		"provider":     "providers:\n  - {name: p}\n",
		"not yaml":     "sources: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestCatalog_DefaultScoring(t *testing.T) {
	cat, err := ParseCatalog([]byte("sources: []\n"))
	require.NoError(t, err)
	assert.Equal(t, scorer.DefaultPolicy().Weights, cat.ScoringPolicy().Weights)
}
