// Package dedup identifies the same deal across polls and sources.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/normalizer"
	"github.com/fiffu/dealwatch/lib/textutil"
	"github.com/shopspring/decimal"
)

const fieldSeparator = "|"

var trackingParams = map[string]bool{
	"ref":     true,
	"ref_":    true,
	"fbclid":  true,
	"gclid":   true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
}

// Fingerprint keys a deal by what it is rather than where it is stored.
func Fingerprint(d *models.Deal) string {
	key := strings.Join([]string{
		NormalizeTitle(d.Title),
		NormalizeURL(d.URL),
		textutil.NormalizeText(d.Merchant),
		PriceBucket(d.Price),
	}, fieldSeparator)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NormalizeTitle drops restated prices before lowercasing and collapsing
// whitespace, so "X — $199 (was $349)" and "X — $179 (was $349)" read the same.
func NormalizeTitle(title string) string {
	return textutil.NormalizeText(normalizer.StripPriceMentions(title))
}

// NormalizeURL lowercases scheme and host, drops the fragment, tracking
// parameters and a trailing slash, and sorts what is left of the query.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return textutil.NormalizeText(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
			q.Del(key)
		}
	}
	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		vals := q[key]
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	return u.String()
}

// Price bands follow a 1-2.5-5 series per decade: [1,2.5) [2.5,5) [5,10) [10,25) ...
// Re-polls that move a price within its band keep their fingerprint.
var bandSteps = []decimal.Decimal{
	decimal.NewFromInt(1),
	decimal.RequireFromString("2.5"),
	decimal.NewFromInt(5),
}

var ten = decimal.NewFromInt(10)

func PriceBucket(price decimal.Decimal) string {
	if !price.IsPositive() {
		return "0"
	}
	decade := decimal.NewFromInt(1)
	if price.GreaterThanOrEqual(decade) {
		for price.GreaterThanOrEqual(decade.Mul(ten)) {
			decade = decade.Mul(ten)
		}
	} else {
		for price.LessThan(decade) {
			decade = decade.Div(ten)
		}
	}
	lower := decade
	for _, step := range bandSteps {
		edge := decade.Mul(step)
		if price.GreaterThanOrEqual(edge) {
			lower = edge
		}
	}
	return "b" + lower.String()
}
