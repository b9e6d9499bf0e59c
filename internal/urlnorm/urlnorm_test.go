package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIdempotent(t *testing.T) {
	raw := "HTTPS://Example.COM/path?x=1#frag"
	n1, err := Normalize(raw, Options{})
	require.NoError(t, err)
	n2, err := Normalize(n1, Options{})
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
}

func TestNormalizeDropsFragmentAndOptionallyQuery(t *testing.T) {
	withQuery, err := Normalize("https://Example.com/a?x=1#frag", Options{})
	require.NoError(t, err)
	assert.NotContains(t, withQuery, "#frag")
	assert.Contains(t, withQuery, "x=1")

	withoutQuery, err := Normalize("https://Example.com/a?x=1#frag", Options{IgnoreQueryParameters: true})
	require.NoError(t, err)
	assert.NotContains(t, withoutQuery, "x=1")
}

func TestPermutationsIncludesIndexVariant(t *testing.T) {
	perms, err := Permutations("https://x.com/a")
	require.NoError(t, err)
	assert.Contains(t, perms, "http://www.x.com/a/index.html")
}

func TestSameDomainMultiPartTLD(t *testing.T) {
	assert.True(t, SameDomain("https://docs.example.co.uk/x", "https://shop.example.co.uk/y"))
	assert.False(t, SameDomain("https://example.co.uk", "https://other.co.uk"))
}

func TestExtractBaseDomainMatchesSameDomain(t *testing.T) {
	base, err := ExtractBaseDomain("https://docs.example.com/guide")
	require.NoError(t, err)
	assert.True(t, SameDomain("https://docs.example.com/guide", "https://"+base))
}
