// Package scorer rates how worthwhile a deal is to resell, on a 0..100 scale.
package scorer

import (
	"math"
	"strings"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/shopspring/decimal"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Weights are the share of the final score each signal may contribute. They are
// normalized by their sum, so only their ratios matter.
type Weights struct {
	Discount   float64 `yaml:"discount"`
	Savings    float64 `yaml:"savings"`
	Merchant   float64 `yaml:"merchant"`
	Category   float64 `yaml:"category"`
	Popularity float64 `yaml:"popularity"`
}

var DefaultWeights = Weights{
	Discount:   0.40,
	Savings:    0.15,
	Merchant:   0.20,
	Category:   0.15,
	Popularity: 0.10,
}

func (w Weights) sum() float64 {
	return w.Discount + w.Savings + w.Merchant + w.Category + w.Popularity
}

type Tier string

const (
	TierTrusted  Tier = "trusted"
	TierStandard Tier = "standard"
	TierRisky    Tier = "risky"
)

var tierSignal = map[Tier]float64{
	TierTrusted:  1.0,
	TierStandard: 0.6,
	TierRisky:    0.2,
}

// Policy is the tunable input to scoring. Merchant and category keys are
// matched case-insensitively.
type Policy struct {
	Weights Weights `yaml:"weights"`
	// MerchantTiers maps a merchant to its reputation tier.
	MerchantTiers map[string]Tier `yaml:"merchant_tiers"`
	// CategoryFactors is expected sell-through per category, 0..1.
	CategoryFactors map[string]float64 `yaml:"category_factors"`
	// SavingsCeiling is the absolute saving that earns the full savings signal.
	SavingsCeiling float64 `yaml:"savings_ceiling"`
	// PopularityCeiling is the vote/comment count that earns the full popularity signal.
	PopularityCeiling int64 `yaml:"popularity_ceiling"`
}

func DefaultPolicy() Policy {
	return Policy{
		Weights:           DefaultWeights,
		SavingsCeiling:    200,
		PopularityCeiling: 100,
	}
}

// neutral is what a missing signal contributes.
const neutral = 0.5

type Scorer struct {
	weights    Weights
	tiers      map[string]Tier
	categories map[string]float64
	savingsCap float64
	popCap     float64
}

func New(p Policy) *Scorer {
	defaults := DefaultPolicy()
	if p.Weights.sum() <= 0 {
		p.Weights = defaults.Weights
	}
	if p.SavingsCeiling <= 0 {
		p.SavingsCeiling = defaults.SavingsCeiling
	}
	if p.PopularityCeiling <= 0 {
		p.PopularityCeiling = defaults.PopularityCeiling
	}

	s := &Scorer{
		weights:    p.Weights,
		tiers:      make(map[string]Tier, len(p.MerchantTiers)),
		categories: make(map[string]float64, len(p.CategoryFactors)),
		savingsCap: p.SavingsCeiling,
		popCap:     float64(p.PopularityCeiling),
	}
	for merchant, tier := range p.MerchantTiers {
		s.tiers[strings.ToLower(strings.TrimSpace(merchant))] = tier
	}
	for category, factor := range p.CategoryFactors {
		s.categories[strings.ToLower(strings.TrimSpace(category))] = factor
	}
	return s
}

// Score never fails and reads nothing but the deal.
func (s *Scorer) Score(d *models.Deal) int {
	if d == nil {
		return MinScore
	}
	w := s.weights
	total := w.Discount*s.discount(d) +
		w.Savings*s.savings(d) +
		w.Merchant*s.merchant(d) +
		w.Category*s.category(d) +
		w.Popularity*s.popularity(d)

	score := math.Round(total / w.sum() * MaxScore)
	return clamp(score)
}

func (s *Scorer) discount(d *models.Deal) float64 {
	if !d.DiscountPercentage.Valid {
		return neutral * 0.5
	}
	return unit(float64(d.DiscountPercentage.Int64) / 100)
}

func (s *Scorer) savings(d *models.Deal) float64 {
	if !d.OriginalPrice.Valid {
		return neutral * 0.5
	}
	saved := d.OriginalPrice.Decimal.Sub(d.Price)
	if !saved.IsPositive() {
		return 0
	}
	f, _ := saved.Div(decimal.NewFromFloat(s.savingsCap)).Float64()
	// sqrt so the first dollars saved count the most
	return unit(math.Sqrt(unit(f)))
}

func (s *Scorer) merchant(d *models.Deal) float64 {
	tier, ok := s.tiers[strings.ToLower(strings.TrimSpace(d.Merchant))]
	if !ok {
		return neutral
	}
	if v, ok := tierSignal[tier]; ok {
		return v
	}
	return neutral
}

func (s *Scorer) category(d *models.Deal) float64 {
	factor, ok := s.categories[strings.ToLower(strings.TrimSpace(d.Category))]
	if !ok {
		return neutral
	}
	return unit(factor)
}

func (s *Scorer) popularity(d *models.Deal) float64 {
	if !d.Popularity.Valid || d.Popularity.Int64 <= 0 {
		return neutral
	}
	// log scale: 10 votes is already a meaningful share of 100
	return unit(math.Log1p(float64(d.Popularity.Int64)) / math.Log1p(s.popCap))
}

func unit(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return neutral
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func clamp(f float64) int {
	switch {
	case math.IsNaN(f):
		return MinScore
	case f < MinScore:
		return MinScore
	case f > MaxScore:
		return MaxScore
	}
	return int(f)
}
