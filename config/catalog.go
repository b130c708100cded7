package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/scorer"
	"github.com/fiffu/dealwatch/lib/search"
	"gopkg.in/yaml.v3"
)

const DefaultPollInterval = 15 * time.Minute

var ErrNoCatalog = errors.New("catalog file not found")

// Catalog is the operator-maintained list of sources, search providers and the
// scoring policy. Sources are seeded into the store once; edits made through
// the API afterwards win over the file.
type Catalog struct {
	Sources   []SourceEntry           `yaml:"sources"`
	Providers []search.ProviderConfig `yaml:"providers"`
	Scoring   *scorer.Policy          `yaml:"scoring"`
}

type SourceEntry struct {
	Name         string        `yaml:"name"`
	Type         string        `yaml:"type"`
	Enabled      *bool         `yaml:"enabled"`
	Endpoint     string        `yaml:"endpoint"`
	Merchant     string        `yaml:"merchant"`
	Category     string        `yaml:"category"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCatalog
	} else if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(b)
}

func ParseCatalog(b []byte) (*Catalog, error) {
	cat := &Catalog{}
	if err := yaml.Unmarshal(b, cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

func (c *Catalog) validate() error {
	names := make(map[string]bool)
	for i, src := range c.Sources {
		name := strings.TrimSpace(src.Name)
		switch {
		case name == "":
			return fmt.Errorf("catalog: source #%d has no name", i)
		case names[name]:
			return fmt.Errorf("catalog: duplicate source %q", name)
		case !models.SourceType(src.Type).Valid():
			return fmt.Errorf("catalog: source %q has unknown type %q", name, src.Type)
		case src.Endpoint == "":
			return fmt.Errorf("catalog: source %q has no endpoint", name)
		case src.PollInterval < 0:
			return fmt.Errorf("catalog: source %q has a negative poll interval", name)
		}
		names[name] = true
	}

	providers := make(map[string]bool)
	for i, p := range c.Providers {
		switch {
		case p.Name == "":
			return fmt.Errorf("catalog: provider #%d has no name", i)
		case providers[p.Name]:
			return fmt.Errorf("catalog: duplicate provider %q", p.Name)
		case p.Endpoint == "":
			return fmt.Errorf("catalog: provider %q has no endpoint", p.Name)
		case p.Budget < 0:
			return fmt.Errorf("catalog: provider %q has a negative budget", p.Name)
		}
		providers[p.Name] = true
	}
	return nil
}

// SourceModels converts the entries to store rows. Enabled defaults to true.
func (c *Catalog) SourceModels() models.Sources {
	out := make(models.Sources, 0, len(c.Sources))
	for _, e := range c.Sources {
		interval := e.PollInterval
		if interval == 0 {
			interval = DefaultPollInterval
		}
		out = append(out, models.Source{
			Name:         strings.TrimSpace(e.Name),
			Type:         models.SourceType(e.Type),
			Enabled:      e.Enabled == nil || *e.Enabled,
			Endpoint:     e.Endpoint,
			Merchant:     e.Merchant,
			Category:     e.Category,
			PollInterval: interval,
		})
	}
	return out
}

// Budgets maps each provider to its calls per window.
func (c *Catalog) Budgets() map[string]int {
	out := make(map[string]int, len(c.Providers))
	for _, p := range c.Providers {
		out[p.Name] = p.Budget
	}
	return out
}

func (c *Catalog) ScoringPolicy() scorer.Policy {
	if c.Scoring == nil {
		return scorer.DefaultPolicy()
	}
	return *c.Scoring
}
