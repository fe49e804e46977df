package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	j, err := New([]byte("secret"))
	require.NoError(t, err)

	token, err := j.Sign("ops", time.Hour)
	require.NoError(t, err)

	claims, err := j.Parse("Bearer " + token)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)

	other, err := New([]byte("other"))
	require.NoError(t, err)
	_, err = other.Parse(token)
	require.Error(t, err)
}

func TestParseExpired(t *testing.T) {
	j, err := New([]byte("secret"))
	require.NoError(t, err)
	j.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := j.Sign("ops", time.Hour)
	require.NoError(t, err)

	j.now = time.Now
	_, err = j.Parse(token)
	require.Error(t, err)

	_, err = New(nil)
	require.Error(t, err)
}
