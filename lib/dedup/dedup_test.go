package dedup

import (
	"database/sql"
	"testing"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deal(title, link, merchant, price string) *models.Deal {
	return &models.Deal{
		Title:    title,
		URL:      link,
		Merchant: merchant,
		Price:    decimal.RequireFromString(price),
		Category: "electronics",
		Status:   models.DealStatusActive,
	}
}

func TestFingerprint_SameForCosmeticDifferences(t *testing.T) {
	a := deal("Sony WH-1000XM4 — $199 (was $349)", "https://www.bestbuy.com/site/xm4/?utm_source=rss#top", "BestBuy", "199")
	b := deal("  sony   wh-1000xm4 — $199 (was $349)", "HTTPS://BESTBUY.COM/site/xm4", "bestbuy", "199.40")
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_StableAcrossPriceDropWithinBand(t *testing.T) {
	before := deal("Sony WH-1000XM4 — $199 (was $349)", "https://bestbuy.com/site/xm4", "BestBuy", "199")
	after := deal("Sony WH-1000XM4 — $179 (was $349)", "https://bestbuy.com/site/xm4", "BestBuy", "179")
	assert.Equal(t, Fingerprint(before), Fingerprint(after))
}

func TestFingerprint_DiffersWhenIdentityDiffers(t *testing.T) {
	base := deal("Sony WH-1000XM4", "https://bestbuy.com/site/xm4", "BestBuy", "199")
	variants := []*models.Deal{
		deal("Sony WH-1000XM5", "https://bestbuy.com/site/xm4", "BestBuy", "199"),
		deal("Sony WH-1000XM4", "https://bestbuy.com/site/xm5", "BestBuy", "199"),
		deal("Sony WH-1000XM4", "https://bestbuy.com/site/xm4", "Amazon", "199"),
		deal("Sony WH-1000XM4", "https://bestbuy.com/site/xm4", "BestBuy", "349"),
	}
	for _, v := range variants {
		assert.NotEqual(t, Fingerprint(base), Fingerprint(v))
	}
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t,
		"https://example.com/p?a=1&b=2",
		NormalizeURL("HTTPS://www.Example.com/p/?b=2&utm_medium=x&a=1&fbclid=zzz#reviews"),
	)
}

func TestPriceBucket(t *testing.T) {
	tests := []struct {
		price string
		want  string
	}{
		{"0.75", "b0.5"},
		{"1", "b1"},
		{"2.49", "b1"},
		{"2.50", "b2.5"},
		{"9.99", "b5"},
		{"179", "b100"},
		{"199", "b100"},
		{"249.99", "b100"},
		{"250", "b250"},
		{"349", "b250"},
		{"1299", "b1000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriceBucket(decimal.RequireFromString(tt.price)), tt.price)
	}
}

func TestDecide(t *testing.T) {
	stored := deal("Sony WH-1000XM4", "https://bestbuy.com/site/xm4", "BestBuy", "199")
	stored.Score = 70

	same := *stored
	assert.Equal(t, ActionDiscard, Decide(stored, &same))
	assert.Equal(t, ActionInsert, Decide(nil, &same))

	cheaper := *stored
	cheaper.Price = decimal.NewFromInt(179)
	assert.Equal(t, ActionUpdate, Decide(stored, &cheaper))

	rescored := *stored
	rescored.Score = 71
	assert.Equal(t, ActionUpdate, Decide(stored, &rescored))

	withOriginal := *stored
	withOriginal.OriginalPrice = decimal.NewNullDecimal(decimal.NewFromInt(349))
	assert.Equal(t, ActionUpdate, Decide(stored, &withOriginal))

	discounted := *stored
	discounted.DiscountPercentage = sql.NullInt64{Int64: 43, Valid: true}
	assert.Equal(t, ActionUpdate, Decide(stored, &discounted))

	expired := *stored
	expired.Status = models.DealStatusExpired
	assert.Equal(t, ActionInsert, Decide(&expired, &same))
}

func TestCollapse_OrderIndependent(t *testing.T) {
	now := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	a := deal("Thing", "https://example.com/thing", "Shop", "10.50")
	a.PostedAt = now
	b := deal("Thing", "https://example.com/thing", "Shop", "10")
	b.PostedAt = now
	c := deal("Other", "https://example.com/other", "Shop", "10")
	for _, d := range []*models.Deal{a, b, c} {
		d.Fingerprint = Fingerprint(d)
	}
	require.Equal(t, a.Fingerprint, b.Fingerprint)

	first, dropped := Collapse([]*models.Deal{a, b, c})
	second, _ := Collapse([]*models.Deal{c, b, a})

	assert.Equal(t, 1, dropped)
	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	for _, d := range first {
		if d.Fingerprint == a.Fingerprint {
			assert.Same(t, b, d, "lower price wins the tie")
		}
	}
}
