// Package normalizer maps source-specific raw records onto the canonical Deal.
package normalizer

import (
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/fiffu/dealwatch/lib/models"
	"github.com/fiffu/dealwatch/lib/textutil"
	"github.com/shopspring/decimal"
)

const (
	ManualSourceName  = "manual"
	defaultCategory   = "uncategorized"
	categoryDelimiter = ">"
)

// Normalize maps one raw record fetched from src at fetchedAt. Missing optional
// fields stay null; an item without a usable price, title or url is rejected with
// a *NormalizationError.
func Normalize(src *models.Source, rec models.RawRecord, fetchedAt time.Time) (*models.Deal, error) {
	var (
		d   *draft
		err error
	)
	switch r := rec.(type) {
	case models.FeedItem:
		d, err = fromFeedItem(r)
	case *models.FeedItem:
		d, err = fromFeedItem(*r)
	case models.AffiliateProduct:
		d, err = fromAffiliate(r, fetchedAt)
	case *models.AffiliateProduct:
		d, err = fromAffiliate(*r, fetchedAt)
	case models.APIProduct:
		d, err = fromAPI(r)
	case *models.APIProduct:
		d, err = fromAPI(*r)
	case models.ManualSubmission:
		d, err = fromManual(r)
	case *models.ManualSubmission:
		d, err = fromManual(*r)
	default:
		return nil, fieldErr("", "record", ErrUnsupportedKind)
	}
	if err != nil {
		return nil, err
	}
	return d.finish(src, rec.Kind(), fetchedAt)
}

// draft collects what a record offers before defaults are applied.
type draft struct {
	title      string
	link       string
	imageURL   string
	price      decimal.Decimal
	original   *decimal.Decimal
	percentOff *int
	merchant   string
	category   string
	popularity *int64
	postedAt   *time.Time
	expiresAt  *time.Time
}

func fromFeedItem(item models.FeedItem) (*draft, error) {
	kind := item.Kind()
	d := &draft{
		title:      textutil.CompactWhitespace(item.Title),
		link:       item.Link,
		imageURL:   item.ImageURL,
		popularity: item.Comments,
		postedAt:   item.Published,
	}
	if d.link == "" && strings.HasPrefix(item.GUID, "http") {
		d.link = item.GUID
	}
	if len(item.Categories) > 0 {
		d.category = item.Categories[0]
	}
	if d.imageURL == "" && item.Description != "" {
		if doc, err := textutil.ParseHTML(item.Description); err == nil {
			d.imageURL = textutil.ExtractImageURL(doc)
		}
	}

	prices := ExtractPrices(d.title)
	if prices.Current == nil && item.Description != "" {
		blurb := ExtractPrices(textutil.PlainText(item.Description))
		prices.Current = blurb.Current
		if prices.Original == nil {
			prices.Original = blurb.Original
		}
		if prices.PercentOff == nil {
			prices.PercentOff = blurb.PercentOff
		}
	}
	if prices.Current == nil {
		return nil, fieldErr(kind, "price", ErrNoPrice)
	}
	d.price = *prices.Current
	d.original = prices.Original
	d.percentOff = prices.PercentOff
	return d, nil
}

// A sale price whose effective window closed before fetchedAt no longer
// applies; the product falls back to its list price.
func fromAffiliate(p models.AffiliateProduct, fetchedAt time.Time) (*draft, error) {
	kind := p.Kind()
	d := &draft{
		title:    textutil.CompactWhitespace(p.Title),
		link:     p.Link,
		imageURL: p.ImageLink,
		merchant: p.Store,
		category: topCategory(p.ProductType),
		postedAt: p.Published,
	}

	listPrice, listErr := ParsePrice(p.Price)
	saleOver := p.SaleEffectiveTo != nil && !p.SaleEffectiveTo.After(fetchedAt)
	if p.SalePrice != "" && !saleOver {
		sale, err := ParsePrice(p.SalePrice)
		if err == nil {
			d.price = sale
			d.expiresAt = p.SaleEffectiveTo
			if listErr == nil {
				d.original = &listPrice
			}
			return d, nil
		}
	}
	if listErr != nil {
		return nil, fieldErr(kind, "price", listErr)
	}
	d.price = listPrice
	return d, nil
}

func fromAPI(p models.APIProduct) (*draft, error) {
	kind := p.Kind()
	d := &draft{
		title:      textutil.CompactWhitespace(p.Title),
		link:       p.URL,
		imageURL:   p.ImageURL,
		merchant:   p.Merchant,
		category:   p.Category,
		popularity: p.Popularity,
		postedAt:   p.PostedAt,
		expiresAt:  p.ExpiresAt,
	}

	var err error
	if p.PriceCents != nil {
		d.price, err = FromCents(*p.PriceCents)
	} else {
		d.price, err = ParsePrice(string(p.Price))
	}
	if err != nil {
		return nil, fieldErr(kind, "price", err)
	}
	if p.OriginalPrice != "" {
		if orig, err := ParsePrice(string(p.OriginalPrice)); err == nil {
			d.original = &orig
		}
	}
	if p.DiscountPercent != nil {
		pct := clampPercent(int(decimal.NewFromFloat(*p.DiscountPercent).Round(0).IntPart()))
		d.percentOff = &pct
	}
	return d, nil
}

func fromManual(m models.ManualSubmission) (*draft, error) {
	kind := m.Kind()
	d := &draft{
		title:     textutil.CompactWhitespace(m.Title),
		link:      m.URL,
		imageURL:  m.ImageURL,
		merchant:  m.Merchant,
		category:  m.Category,
		expiresAt: m.ExpiresAt,
	}
	price, err := ParsePrice(m.Price)
	if err != nil {
		return nil, fieldErr(kind, "price", err)
	}
	d.price = price
	if m.OriginalPrice != "" {
		orig, err := ParsePrice(m.OriginalPrice)
		if err != nil {
			return nil, fieldErr(kind, "original_price", err)
		}
		d.original = &orig
	}
	return d, nil
}

func (d *draft) finish(src *models.Source, kind models.SourceType, fetchedAt time.Time) (*models.Deal, error) {
	if d.title == "" {
		return nil, fieldErr(kind, "title", ErrMissingTitle)
	}
	link, host, ok := absoluteURL(d.link)
	if !ok {
		return nil, fieldErr(kind, "url", ErrInvalidURL)
	}

	deal := &models.Deal{
		Title:    d.title,
		URL:      link,
		Price:    d.price,
		Merchant: firstNonEmpty(d.merchant, sourceField(src, func(s *models.Source) string { return s.Merchant }), host),
		Category: textutil.NormalizeText(firstNonEmpty(d.category, sourceField(src, func(s *models.Source) string { return s.Category }), defaultCategory)),
		Status:   models.DealStatusActive,
		PostedAt: fetchedAt.UTC(),
	}
	deal.Merchant = textutil.CompactWhitespace(deal.Merchant)

	if src != nil {
		deal.Source = src.Name
		deal.SourceID = src.ID
	} else {
		deal.Source = ManualSourceName
	}
	if d.postedAt != nil && !d.postedAt.IsZero() {
		deal.PostedAt = d.postedAt.UTC()
	}
	deal.UpdatedAt = deal.PostedAt
	if d.expiresAt != nil && !d.expiresAt.IsZero() {
		deal.ExpiresAt = sql.NullTime{Time: d.expiresAt.UTC(), Valid: true}
	}
	if img, _, ok := absoluteURL(d.imageURL); ok {
		deal.ImageURL = sql.NullString{String: img, Valid: true}
	}
	if d.popularity != nil && *d.popularity >= 0 {
		deal.Popularity = sql.NullInt64{Int64: *d.popularity, Valid: true}
	}

	if d.original != nil && d.original.GreaterThan(d.price) {
		deal.OriginalPrice = decimal.NullDecimal{Decimal: d.original.Round(2), Valid: true}
	}
	if deal.OriginalPrice.Valid {
		pct, _ := DiscountPercent(deal.Price, deal.OriginalPrice.Decimal)
		deal.DiscountPercentage = sql.NullInt64{Int64: int64(pct), Valid: true}
	} else if d.percentOff != nil {
		deal.DiscountPercentage = sql.NullInt64{Int64: int64(*d.percentOff), Valid: true}
	}
	return deal, nil
}

// CheckFresh rejects a deal that the expiry sweep would retire at now: one whose
// expires_at has passed or that was posted more than maxAge ago.
func CheckFresh(d *models.Deal, kind models.SourceType, now time.Time, maxAge time.Duration) error {
	if d.ExpiresAt.Valid && !d.ExpiresAt.Time.After(now) {
		return fieldErr(kind, "expires_at", ErrStale)
	}
	if maxAge > 0 && d.PostedAt.Before(now.Add(-maxAge)) {
		return fieldErr(kind, "posted_at", ErrStale)
	}
	return nil
}

// NormalizeSearchResult maps a provider record onto the cached search result shape.
func NormalizeSearchResult(provider string, p models.APIProduct) (models.SearchResult, error) {
	d, err := fromAPI(p)
	if err != nil {
		return models.SearchResult{}, err
	}
	if d.title == "" {
		return models.SearchResult{}, fieldErr(p.Kind(), "title", ErrMissingTitle)
	}
	link, host, ok := absoluteURL(d.link)
	if !ok {
		return models.SearchResult{}, fieldErr(p.Kind(), "url", ErrInvalidURL)
	}

	res := models.SearchResult{
		Provider: provider,
		Title:    d.title,
		URL:      link,
		Price:    d.price,
		Currency: strings.ToUpper(strings.TrimSpace(p.Currency)),
		Merchant: firstNonEmpty(textutil.CompactWhitespace(d.merchant), host),
	}
	if img, _, ok := absoluteURL(d.imageURL); ok {
		res.ImageURL = img
	}
	if d.original != nil && d.original.GreaterThan(d.price) {
		orig := d.original.Round(2)
		res.OriginalPrice = &orig
	}
	return res, nil
}

func absoluteURL(raw string) (string, string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", false
	}
	return u.String(), strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."), true
}

func topCategory(productType string) string {
	top, _, _ := strings.Cut(productType, categoryDelimiter)
	return strings.TrimSpace(top)
}

func sourceField(src *models.Source, get func(*models.Source) string) string {
	if src == nil {
		return ""
	}
	return get(src)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
