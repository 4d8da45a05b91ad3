package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize_LowercasesSchemeAndHost(t *testing.T) {
	require.Equal(t, "https://example.com/a", Canonicalize("HTTPS://Example.COM/a"))
}

func TestCanonicalize_TrimsTrailingSlash(t *testing.T) {
	require.Equal(t, "https://example.com/a", Canonicalize("https://example.com/a/"))
	require.Equal(t, "https://example.com", Canonicalize("https://example.com/"))
}

func TestCanonicalize_StripsTrackingParamsAndFragment(t *testing.T) {
	got := Canonicalize("https://example.com/a?utm_source=x&utm_medium=y&fbclid=z&id=1#section")
	require.Equal(t, "https://example.com/a?id=1", got)
}

func TestCanonicalize_SameContentDifferentTrackingParamsMatch(t *testing.T) {
	a := Canonicalize("https://example.com/page?gclid=abc&ref=twitter")
	b := Canonicalize("https://example.com/page")
	require.Equal(t, a, b)
}

func TestCanonicalize_InvalidURLReturnedUnchanged(t *testing.T) {
	raw := "http://example.com/%zz"
	require.Equal(t, raw, Canonicalize(raw))
}
