package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fiffu/dealwatch/lib/textutil"
)

// NormalizeQuery is the form every search key and budget decision is taken on.
func NormalizeQuery(q string) string {
	return textutil.NormalizeText(q)
}

func NormalizeCountry(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}

// SearchKey is search:v{N}:{provider}:{country}:{md5(normalized query)}. Flush
// tooling rebuilds keys with this function, so the format must stay stable.
func SearchKey(version int, provider, country, query string) string {
	return fmt.Sprintf("search:v%d:%s:%s:%s",
		version, provider, NormalizeCountry(country), md5hex(NormalizeQuery(query)))
}

const feedVersionKey = "feed:version"

func feedKey(version int64, digest string) string {
	return fmt.Sprintf("feed:v%d:%s", version, digest)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
