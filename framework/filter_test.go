package framework

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexFilters(t *testing.T) {
	var filters RegexFilters
	id := func(path ...string) TestID { return TestID{Path: path} }

	assert.True(t, filters.AsFilter(id("session", "guest")))

	require.NoError(t, filters.MustMatch.Set("^session/"))
	assert.True(t, filters.AsFilter(id("session")))
	assert.True(t, filters.AsFilter(id("session", "guest")))
	assert.False(t, filters.AsFilter(id("navigation")))
	assert.False(t, filters.AsFilter(id("navigation", "home")))

	require.NoError(t, filters.MustNotMatch.Set("guest"))
	assert.False(t, filters.AsFilter(id("session", "guest")))
	assert.True(t, filters.AsFilter(id("session", "api login")))

	assert.Equal(t, `"^session/"`, filters.MustMatch.String())
	require.NoError(t, filters.MustMatch.Set("home$"))
	assert.Equal(t, `"^session/" or "home$"`, filters.MustMatch.String())
}

func TestRegexListMatchesLevels(t *testing.T) {
	var list RegexList
	require.NoError(t, list.Set("session/^guest"))

	assert.True(t, list.AnyMatchPath([]string{"session"}))
	assert.True(t, list.AnyMatchPath([]string{"session", "guest session"}))
	assert.True(t, list.AnyMatchPath([]string{"session", "guest session", "deeper"}))
	assert.False(t, list.AnyMatchPath([]string{"session", "api guest"}))
	assert.False(t, list.AnyMatchPath([]string{"navigation", "guest"}))
}

func TestRegexListRejectsBadPattern(t *testing.T) {
	var list RegexList
	assert.Error(t, list.Set("(unclosed"))
	assert.False(t, list.IsDefined())
}
