package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRelease(t *testing.T) {
	assert.False(t, Info{Version: "dev"}.IsRelease())
	assert.True(t, Info{Version: "1.4.0"}.IsRelease())
	assert.True(t, Info{Version: "v0.3.1-rc.1"}.IsRelease())
}

func TestSatisfies(t *testing.T) {
	ok, err := Info{Version: "v1.4.0"}.Satisfies(">= 1.2, < 2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Info{Version: "2.0.0"}.Satisfies(">= 1.2, < 2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Info{Version: "dev"}.Satisfies("^9")
	require.NoError(t, err)
	assert.True(t, ok, "development builds satisfy every constraint")

	_, err = Info{Version: "1.0.0"}.Satisfies("not a constraint")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Contains(t, Info{Version: "1.0.0", CommitHash: "abc1234def"}.String(), "upilookup 1.0.0")
	assert.Contains(t, Info{Version: "dev", CommitHash: "abc1234def"}.String(), "upilookup dev")
	assert.Equal(t, "abc1234", Info{CommitHash: "abc1234def"}.Short())
}
