package crawler

import (
	"net/url"
	"strings"
)

// CanonicalURL normalizes a detail-page URL to the item's identity. The
// retailer encodes package-size variants as a trailing numeric path segment,
// so different sizes of the same product link to distinct URLs; trimming
// that segment collapses them into one catalog entry. Query and fragment
// are dropped.
func CanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""

	path := strings.TrimRight(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		if last := path[idx+1:]; last != "" && isDigits(last) {
			path = path[:idx]
		}
	}
	u.Path = path
	return u.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
