package click

import (
	"fmt"
	"strings"
)

const defaultClickIDParam = "click_id"

// buildRedirectURL renders the landing URL template for one click. The output
// must be byte-exact for downstream attribution, so everything here is plain
// text manipulation, never a parse-and-reassemble round trip.
//
// Rules:
//   - {click_id} (case-insensitive) and its percent-encoded form %7Bclick_id%7D
//     are replaced, plus the landing's custom token when clickIDParam is not
//     "click_id".
//   - Exactly one substitution path fires: if any placeholder was replaced the
//     id is not also appended as a query parameter.
//   - sub1..sub10 placeholders are substituted when present, leftover non-empty
//     subs are appended as query parameters unless the parameter already exists.
//   - A fragment is carved off first and re-attached verbatim at the very end.
func buildRedirectURL(landingURL, clickIDParam, clickID string, subs map[string]string) string {
	base := landingURL
	fragment := ""
	if idx := strings.Index(base, "#"); idx >= 0 {
		fragment = base[idx:]
		base = base[:idx]
	}

	param := clickIDParam
	if param == "" {
		param = defaultClickIDParam
	}

	replaced := false
	base, replaced = replaceToken(base, "{click_id}", clickID, replaced)
	base, replaced = replaceToken(base, "%7Bclick_id%7D", clickID, replaced)
	if param != defaultClickIDParam {
		base, replaced = replaceToken(base, "{"+param+"}", clickID, replaced)
		base, replaced = replaceToken(base, "%7B"+param+"%7D", clickID, replaced)
	}

	consumed := make(map[string]bool, len(subs))
	for key, value := range subs {
		var hit bool
		base, hit = replaceToken(base, "{"+key+"}", value, false)
		if hit {
			consumed[key] = true
		}
	}

	if !replaced {
		base = appendQueryParam(base, param, clickID)
	}

	for _, key := range subKeys {
		value := subs[key]
		if value == "" || consumed[key] {
			continue
		}
		if hasQueryParam(base, key) {
			continue
		}
		base = appendQueryParam(base, key, value)
	}

	return base + fragment
}

var subKeys = []string{"sub1", "sub2", "sub3", "sub4", "sub5", "sub6", "sub7", "sub8", "sub9", "sub10"}

// replaceToken substitutes every case-insensitive occurrence of token. The
// second return is true when at least one occurrence was replaced or the
// carried flag was already set.
func replaceToken(s, token, value string, already bool) (string, bool) {
	lower := strings.ToLower(s)
	lowerToken := strings.ToLower(token)

	if !strings.Contains(lower, lowerToken) {
		return s, already
	}

	var b strings.Builder
	for {
		idx := strings.Index(lower, lowerToken)
		if idx < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:idx])
		b.WriteString(value)
		s = s[idx+len(token):]
		lower = lower[idx+len(lowerToken):]
	}
	return b.String(), true
}

func appendQueryParam(base, key, value string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%s", base, sep, key, value)
}

// hasQueryParam checks textually whether the query string already carries the
// key, without reparsing (which could reorder or re-encode the URL).
func hasQueryParam(base, key string) bool {
	idx := strings.Index(base, "?")
	if idx < 0 {
		return false
	}
	for _, pair := range strings.Split(base[idx+1:], "&") {
		k := pair
		if eq := strings.Index(pair, "="); eq >= 0 {
			k = pair[:eq]
		}
		if k == key {
			return true
		}
	}
	return false
}
