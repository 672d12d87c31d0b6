package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_GlobalWildcardMatchesEverything(t *testing.T) {
	m, err := Compile("*", '.')
	require.NoError(t, err)
	assert.True(t, m.Match("order.created", nil))
	assert.True(t, m.Match("anything", nil))
}

func TestCompile_SingleSegmentWildcard(t *testing.T) {
	m, err := Compile("a.*", '.')
	require.NoError(t, err)
	assert.True(t, m.Match("a.b", nil))
	assert.False(t, m.Match("a", nil))
	assert.False(t, m.Match("a.b.c", nil))
}

func TestCompile_WildcardMidPattern(t *testing.T) {
	m, err := Compile("user.profile.*", '.')
	require.NoError(t, err)
	assert.True(t, m.Match("user.profile.updated", nil))
	assert.False(t, m.Match("user.profile", nil))
	assert.False(t, m.Match("user.settings.updated", nil))
}

func TestCompile_Alternatives(t *testing.T) {
	m, err := Compile("{x,y}.z", '.')
	require.NoError(t, err)
	assert.True(t, m.Match("x.z", nil))
	assert.True(t, m.Match("y.z", nil))
	assert.False(t, m.Match("w.z", nil))
}

func TestCompile_LiteralExact(t *testing.T) {
	m, err := Compile("order.created", '.')
	require.NoError(t, err)
	assert.True(t, m.Match("order.created", nil))
	assert.False(t, m.Match("order.created.v2", nil))
}

func TestCompile_EmptyAlternativeIsError(t *testing.T) {
	_, err := Compile("{a,,b}", '.')
	require.Error(t, err)
	var cerr *CompilationError
	assert.ErrorAs(t, err, &cerr)
}

func TestCompile_UnterminatedBraceIsError(t *testing.T) {
	_, err := Compile("{a,b", '.')
	require.Error(t, err)
}

func TestCompile_EmptyPatternIsError(t *testing.T) {
	_, err := Compile("", '.')
	require.Error(t, err)
}

func TestCompile_RegexMetacharactersEscaped(t *testing.T) {
	m, err := Compile("a+b", '.')
	require.NoError(t, err)
	assert.True(t, m.Match("a+b", nil))
	assert.False(t, m.Match("aab", nil)) // would match if '+' were treated as regex quantifier
}

func TestCompile_CachedByPatternAndSeparator(t *testing.T) {
	m1, err := Compile("order.created", '.')
	require.NoError(t, err)
	m2, err := Compile("order.created", '.')
	require.NoError(t, err)
	assert.Equal(t, m1.re, m2.re)
}

func TestCompileFunc_Bypass(t *testing.T) {
	m := CompileFunc(func(eventType string, event any) bool {
		return eventType == "special"
	})
	assert.True(t, m.Match("special", nil))
	assert.False(t, m.Match("other", nil))
	assert.Empty(t, m.Source())
}

func TestCompile_HyphenSeparator(t *testing.T) {
	m, err := Compile("order-*", '-')
	require.NoError(t, err)
	assert.True(t, m.Match("order-created", nil))
	assert.False(t, m.Match("order-created-v2", nil))
}
