// Package urlnorm canonicalizes URLs for cache keys and dedup comparisons
// (C3/C4/C11): two URLs that name the same page should collapse to the same
// key even if they differ in case, trailing slash, tracking parameters, or
// fragment.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParamPrefixes are query-parameter prefixes stripped regardless of
// value, since they carry campaign/referral metadata rather than identifying
// distinct content.
var trackingParamPrefixes = []string{"utm_"}

// trackingParamNames are exact query-parameter names stripped for the same
// reason as trackingParamPrefixes.
var trackingParamNames = map[string]struct{}{
	"ref":                 {},
	"fbclid":              {},
	"gclid":               {},
	"mc_cid":              {},
	"mc_eid":              {},
	"igshid":              {},
	"spm":                 {},
	"__cf_chl_jschl_tk__": {},
}

// Canonicalize lowercases scheme and host, trims a trailing slash off the
// path, strips tracking query parameters and the fragment, and sorts the
// remaining query parameters for a stable string form. Used both to dedup
// search hits across rounds (C11 §3(iv)) and to key the result cache (C2) so
// the same page reached via a tracked link and a clean one share a cache
// entry.
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" {
		u.Path = ""
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	u.Fragment = ""

	if len(u.RawQuery) > 0 {
		q := u.Query()
		for key := range q {
			lower := strings.ToLower(key)
			if _, exact := trackingParamNames[lower]; exact {
				q.Del(key)
				continue
			}
			for _, prefix := range trackingParamPrefixes {
				if strings.HasPrefix(lower, prefix) {
					q.Del(key)
					break
				}
			}
		}
		u.RawQuery = encodeSorted(q)
	}

	return u.String()
}

// encodeSorted is url.Values.Encode with deterministic key order (Encode
// already sorts, kept explicit here since canonicalization correctness
// depends on it rather than incidentally inheriting it).
func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		for j, v := range q[k] {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
