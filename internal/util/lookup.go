package util

import (
	"regexp"
	"strings"
)

var lookupKeyJunk = regexp.MustCompile(`[^A-Za-z0-9\-]+`)

// NormalizeLookupKey canonicalizes a sample barcode as typed or scanned:
// whitespace and separators other than '-' are dropped, letters upper-cased.
func NormalizeLookupKey(raw string) string {
	s := strings.TrimSpace(raw)
	s = lookupKeyJunk.ReplaceAllString(s, "")
	s = strings.Trim(s, "-")

	return strings.ToUpper(s)
}

// NormalizeLookupKeys normalizes keys, dropping empties and duplicates while
// keeping first-seen order.
func NormalizeLookupKeys(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		k := NormalizeLookupKey(r)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
