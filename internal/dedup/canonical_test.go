package dedup_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealpipe/dealpipe/internal/dedup"
)

func TestCanonicalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips utm parameters",
			in:   "https://example.com/deal?utm_source=feed&utm_medium=rss&id=42",
			want: "https://example.com/deal?id=42",
		},
		{
			name: "strips click ids",
			in:   "https://example.com/deal?gclid=abc123&fbclid=def456",
			want: "https://example.com/deal",
		},
		{
			name: "lowercases host and strips www",
			in:   "HTTPS://WWW.Example.COM/Deal",
			want: "https://example.com/Deal",
		},
		{
			name: "drops fragment",
			in:   "https://example.com/deal#comments",
			want: "https://example.com/deal",
		},
		{
			name: "sorts remaining query params",
			in:   "https://example.com/deal?b=2&a=1",
			want: "https://example.com/deal?a=1&b=2",
		},
		{
			name: "trims trailing slash",
			in:   "https://example.com/deal/",
			want: "https://example.com/deal",
		},
		{
			name: "keeps meaningful params",
			in:   "https://example.com/p?sku=991&utm_campaign=x&ref=homepage",
			want: "https://example.com/p?sku=991",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := dedup.CanonicalizeURL(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalizeURLEquivalence(t *testing.T) {
	a, err := dedup.CanonicalizeURL("https://www.example.com/deal?utm_source=a&id=7")
	require.NoError(t, err)
	b, err := dedup.CanonicalizeURL("https://example.com/deal/?id=7&utm_medium=b")
	require.NoError(t, err)

	assert.Equal(t, a, b, "tracking variants of the same URL must canonicalize identically")
}

func TestCanonicalizeURLRejectsRelative(t *testing.T) {
	_, err := dedup.CanonicalizeURL("/deal?id=42")
	assert.Error(t, err)
}
