package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	t.Parallel()

	h, err := HashPassword("Pass123$")
	require.NoError(t, err)
	assert.NotEqual(t, "Pass123$", h)

	assert.True(t, CheckPassword(h, "Pass123$"))
	assert.False(t, CheckPassword(h, "pass123$"))
	assert.False(t, CheckPassword("", "Pass123$"))
}
