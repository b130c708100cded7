package normalizer

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	amountPattern = regexp.MustCompile(`\d(?:[\d.,]*\d)?`)

	// An amount in free text needs a currency symbol, otherwise model numbers
	// such as "WH-1000XM4" would read as prices.
	mentionPattern = regexp.MustCompile(
		`(?i)(?:\b(was|reg|regular|list|orig|original|msrp|retail)\b\.?[:\s]*)?([$€£¥])\s?(\d(?:[\d.,]*\d)?)`,
	)
	percentOffPattern = regexp.MustCompile(`(?i)(\d{1,3})\s*%\s*off`)
	bracketedWas      = regexp.MustCompile(`(?i)[(\[]\s*(was|reg|regular|list|orig|original|msrp|retail)\b[^)\]]*[)\]]`)
)

var hundred = decimal.NewFromInt(100)

// Currencies conventionally written with a decimal comma and dot thousands.
var commaDecimalCodes = map[string]bool{
	"EUR": true, "SEK": true, "NOK": true, "DKK": true,
	"PLN": true, "CZK": true, "HUF": true, "BRL": true, "TRY": true,
}

// ParsePrice reads the first amount in s: "$1,299.99", "19.99 USD", "1.299,00 €", "€5".
// The result has two decimal places and is strictly positive.
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	loc := amountPattern.FindStringIndex(s)
	if loc == nil {
		return decimal.Zero, ErrNoPrice
	}
	if negativeBefore(s[:loc[0]]) {
		return decimal.Zero, ErrNonPositivePrice
	}

	commaDecimal := commaDecimalCurrency(s[:loc[0]], s[loc[1]:])
	d, err := decimal.NewFromString(canonicalAmount(s[loc[0]:loc[1]], commaDecimal))
	if err != nil {
		return decimal.Zero, ErrInvalidPrice
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, ErrNonPositivePrice
	}
	return d, nil
}

// FromCents converts an integer number of cents.
func FromCents(cents int64) (decimal.Decimal, error) {
	if cents <= 0 {
		return decimal.Zero, ErrNonPositivePrice
	}
	return decimal.New(cents, -2), nil
}

func negativeBefore(prefix string) bool {
	for i := len(prefix) - 1; i >= 0; i-- {
		switch c := prefix[i]; {
		case c == '-':
			return true
		case c == ' ' || c == '$' || c == '\t':
			continue
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
			continue
		case c >= 0x80:
			// part of a multi-byte currency symbol
			continue
		default:
			return false
		}
	}
	return false
}

// commaDecimalCurrency reports whether the text around an amount names a
// currency written like "€1.299,00".
func commaDecimalCurrency(before, after string) bool {
	if strings.Contains(before, "€") || strings.Contains(after, "€") {
		return true
	}
	for _, code := range strings.FieldsFunc(before+" "+after, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z')
	}) {
		if commaDecimalCodes[strings.ToUpper(code)] {
			return true
		}
	}
	return false
}

// canonicalAmount turns "1,299.99", "1.299,99", "1 299" style digits into "1299.99".
// With commaDecimal, a lone dot before exactly three digits ("1.299") groups
// thousands.
func canonicalAmount(s string, commaDecimal bool) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	decimalSep := byte(0)
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimalSep = '.'
		} else {
			decimalSep = ','
		}
	case lastComma >= 0:
		// A single comma followed by one or two digits is a decimal comma.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			decimalSep = ','
		}
	case lastDot >= 0:
		if strings.Count(s, ".") == 1 && !(commaDecimal && len(s)-lastDot-1 == 3) {
			decimalSep = '.'
		}
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == decimalSep && i == strings.LastIndexByte(s, decimalSep):
			b.WriteByte('.')
		}
	}
	return b.String()
}

// TitlePrices holds the amounts a deal title or blurb mentions.
type TitlePrices struct {
	Current    *decimal.Decimal
	Original   *decimal.Decimal
	PercentOff *int
}

// ExtractPrices scans free text such as "Sony WH-1000XM4 — $199 (was $349)".
// The first unqualified amount is the current price; the first amount qualified by
// was/reg/list/orig/msrp is the original price.
func ExtractPrices(text string) TitlePrices {
	var tp TitlePrices
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		d, err := ParsePrice(m[2] + m[3])
		if err != nil {
			continue
		}
		if m[1] != "" {
			if tp.Original == nil {
				tp.Original = &d
			}
		} else if tp.Current == nil {
			tp.Current = &d
		}
	}
	if m := percentOffPattern.FindStringSubmatch(text); m != nil {
		pct := atoiClamp(m[1])
		tp.PercentOff = &pct
	}
	return tp
}

// StripPriceMentions removes amounts and "(was ...)" asides from a title, leaving
// the words that identify the product.
func StripPriceMentions(title string) string {
	title = bracketedWas.ReplaceAllString(title, " ")
	title = mentionPattern.ReplaceAllString(title, " ")
	title = percentOffPattern.ReplaceAllString(title, " ")
	return title
}

// DiscountPercent is the rounded percentage saved going from original to price.
func DiscountPercent(price, original decimal.Decimal) (int, bool) {
	if !original.IsPositive() || !original.GreaterThan(price) {
		return 0, false
	}
	pct := original.Sub(price).Div(original).Mul(hundred).Round(0).IntPart()
	return clampPercent(int(pct)), true
}

func atoiClamp(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return clampPercent(n)
}

func clampPercent(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
