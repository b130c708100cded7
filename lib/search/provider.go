package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/normalizer"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Provider is one product search backend. Its response shape stays inside the
// adapter; callers only see normalized results.
type Provider interface {
	Name() string
	Search(ctx context.Context, query, country string) (models.SearchResults, error)
}

// ProviderConfig describes an HTTP JSON search provider.
type ProviderConfig struct {
	Name     string            `yaml:"name"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	// QueryParam and CountryParam name the request parameters; they default to
	// "q" and "country".
	QueryParam   string `yaml:"query_param"`
	CountryParam string `yaml:"country_param"`
	// Budget is the number of calls allowed per budget window.
	Budget int `yaml:"budget"`
	// RequestsPerSecond paces calls to the provider; zero means unpaced.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// HTTPProvider calls an endpoint answering {"items": [...]} with items in the
// retailer API product shape.
type HTTPProvider struct {
	cfg       ProviderConfig
	transport http.RoundTripper
	limiter   *rate.Limiter
	log       *zap.Logger
}

func NewHTTPProvider(cfg ProviderConfig, transport http.RoundTripper, log *zap.Logger) *HTTPProvider {
	if cfg.QueryParam == "" {
		cfg.QueryParam = "q"
	}
	if cfg.CountryParam == "" {
		cfg.CountryParam = "country"
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &HTTPProvider{cfg, transport, limiter, log}
}

func (p *HTTPProvider) Name() string { return p.cfg.Name }

func (p *HTTPProvider) Search(ctx context.Context, query, country string) (models.SearchResults, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	req := requests.
		URL(p.cfg.Endpoint).
		Transport(p.transport).
		Param(p.cfg.QueryParam, query).
		Param(p.cfg.CountryParam, country).
		Accept("application/json").
		ToJSON(&page)
	for k, v := range p.cfg.Headers {
		req = req.Header(k, v)
	}
	if err := req.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.cfg.Name, err)
	}

	results := make(models.SearchResults, 0, len(page.Items))
	skipped := 0
	for _, raw := range page.Items {
		var item models.APIProduct
		if err := json.Unmarshal(raw, &item); err != nil {
			skipped++
			continue
		}
		res, err := normalizer.NormalizeSearchResult(p.cfg.Name, item)
		if err != nil {
			skipped++
			continue
		}
		results = append(results, res)
	}
	if skipped > 0 {
		p.log.Sugar().Debugw("Dropped unusable provider results", "provider", p.cfg.Name, "skipped", skipped)
	}
	return results, nil
}

// ProviderFunc adapts a function into a Provider.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, query, country string) (models.SearchResults, error)
}

func (f ProviderFunc) Name() string { return f.ProviderName }

func (f ProviderFunc) Search(ctx context.Context, query, country string) (models.SearchResults, error) {
	return f.Fn(ctx, query, country)
}

var _ Provider = (*HTTPProvider)(nil)
var _ Provider = ProviderFunc{}
