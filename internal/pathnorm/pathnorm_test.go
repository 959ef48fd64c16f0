package pathnorm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// longTail returns a relative path tail of exactly n characters.
func longTail(n int) string {
	var sb strings.Builder
	for sb.Len() < n {
		sb.WriteString(`segment\`)
	}
	return sb.String()[:n]
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected Kind
	}{
		{name: "upper drive", path: `C:\proj`, expected: KindLocalAbsolute},
		{name: "lower drive", path: `d:\`, expected: KindLocalAbsolute},
		{name: "drive relative", path: `C:proj`, expected: KindOther},
		{name: "forward slash drive", path: `C:/proj`, expected: KindOther},
		{name: "unc", path: `\\server\share`, expected: KindUNCAbsolute},
		{name: "extended looks like unc", path: `\\?\C:\x`, expected: KindUNCAbsolute},
		{name: "rooted", path: `\proj`, expected: KindOther},
		{name: "posix", path: `/home/user`, expected: KindOther},
		{name: "too short", path: `C:`, expected: KindOther},
		{name: "too short unc", path: `\\`, expected: KindOther},
		{name: "empty", path: ``, expected: KindOther},
		{name: "digit drive", path: `1:\x`, expected: KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.path))
		})
	}
}

func TestLength_CountsUTF16CodeUnits(t *testing.T) {
	assert.Equal(t, 0, Length(""))
	assert.Equal(t, 7, Length(`C:\proj`))
	// é is one code unit, 😀 is a surrogate pair.
	assert.Equal(t, 1, Length("é"))
	assert.Equal(t, 2, Length("😀"))
}

func TestToExtended_ShortPathsUnchanged(t *testing.T) {
	// Given: paths at or below the threshold
	local := `C:\` + longTail(MaxShortPathLength-3)
	require.Equal(t, MaxShortPathLength, Length(local))
	unc := `\\server\share\x`

	// When/Then: they pass through untouched
	assert.Equal(t, local, ToExtended(local))
	assert.Equal(t, unc, ToExtended(unc))
}

func TestToExtended_LongLocalPathGainsPrefix(t *testing.T) {
	// Given: a local path one code unit over the threshold
	path := `C:\` + longTail(MaxShortPathLength-2)
	require.Equal(t, MaxShortPathLength+1, Length(path))

	// When: rewriting
	got := ToExtended(path)

	// Then: the literal \\?\ prefix is added
	assert.Equal(t, `\\?\`+path, got)
}

func TestToExtended_LongUNCPathGainsUNCPrefix(t *testing.T) {
	// Given: a long UNC path
	tail := longTail(300)
	path := `\\server\share\` + tail

	// When: rewriting
	got := ToExtended(path)

	// Then: the leading \\ is replaced by \\?\UNC\
	assert.Equal(t, `\\?\UNC\server\share\`+tail, got)
}

func TestToExtended_LongOtherPathUnchanged(t *testing.T) {
	path := `relative\` + longTail(300)
	assert.Equal(t, path, ToExtended(path))

	posix := "/" + strings.Repeat("a/", 200)
	assert.Equal(t, posix, ToExtended(posix))
}

func TestToExtended_AlreadyExtendedIsIdempotent(t *testing.T) {
	local := `\\?\C:\` + longTail(300)
	unc := `\\?\UNC\server\share\` + longTail(300)

	assert.Equal(t, local, ToExtended(local))
	assert.Equal(t, unc, ToExtended(unc))
	assert.Equal(t, local, ToExtended(ToExtended(local)))
}

func TestToExtended_NonBMPCountsTowardsThreshold(t *testing.T) {
	// Given: 119 surrogate pairs after C:\ -> 3 + 238 = 241 code units but only 122 runes
	path := `C:\` + strings.Repeat("😀", 119)
	require.Equal(t, 241, Length(path))

	// Then: the path is long and gains the prefix
	assert.Equal(t, ExtendedPrefix+path, ToExtended(path))
}

func TestStripExtended(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{name: "local", path: `\\?\C:\proj\a.txt`, expected: `C:\proj\a.txt`},
		{name: "unc", path: `\\?\UNC\server\share\a.txt`, expected: `\\server\share\a.txt`},
		{name: "plain local", path: `C:\proj`, expected: `C:\proj`},
		{name: "plain unc", path: `\\server\share`, expected: `\\server\share`},
		{name: "device namespace untouched", path: `\\.\pipe\x`, expected: `\\.\pipe\x`},
		{name: "empty", path: ``, expected: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripExtended(tt.path))
		})
	}
}

func TestRoundTrip_StripThenExtend(t *testing.T) {
	// Prefixed paths whose unprefixed form is still over the threshold come back unchanged.
	paths := []string{
		`\\?\C:\` + longTail(MaxShortPathLength),
		`\\?\Z:\` + longTail(400),
		`\\?\UNC\server\share\` + longTail(MaxShortPathLength),
		`\\?\UNC\s\` + longTail(1000),
	}

	for _, p := range paths {
		require.Greater(t, Length(StripExtended(p)), MaxShortPathLength)
		assert.Equal(t, p, ToExtended(StripExtended(p)))
	}
}

func TestRoundTrip_ExtendThenStrip(t *testing.T) {
	// Local and UNC absolute paths of any length survive a rewrite and strip.
	var paths []string
	for _, n := range []int{0, 1, 100, MaxShortPathLength - 3, MaxShortPathLength - 2, 500, 32000} {
		paths = append(paths, `C:\`+longTail(n))
		paths = append(paths, `\\server\share\`+longTail(n))
	}

	for _, p := range paths {
		assert.Equal(t, p, StripExtended(ToExtended(p)))
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "local", KindLocalAbsolute.String())
	assert.Equal(t, "unc", KindUNCAbsolute.String())
	assert.Equal(t, "other", KindOther.String())
}
