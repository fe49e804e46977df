package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	gormLogger "gorm.io/gorm/logger"
)

func TestSanitizeLoggedSQLParam(t *testing.T) {
	long := strings.Repeat("x", 40)

	got, ok := sanitizeLoggedSQLParam(long, 10).(string)
	require.True(t, ok)
	require.Equal(t, "xxxxxxxxxx...<truncated:len=40>", got)

	require.Equal(t, "<bytes:len=40,truncated>", sanitizeLoggedSQLParam([]byte(long), 10))
	require.Equal(t, "short", sanitizeLoggedSQLParam("short", 10))
	require.Equal(t, 42, sanitizeLoggedSQLParam(42, 10))
}

func TestTruncatingParamsLogger(t *testing.T) {
	l, ok := newTruncatingParamsLogger(gormLogger.Discard).(*truncatingParamsLogger)
	require.True(t, ok)

	fields := `{"summary":"` + strings.Repeat("a", 300) + `"}`
	sql, params := l.ParamsFilter(context.Background(), "INSERT INTO artifacts", "kw", fields, 3)
	require.Equal(t, "INSERT INTO artifacts", sql)
	require.Len(t, params, 3)
	require.Equal(t, "kw", params[0])
	require.Contains(t, params[1], "<truncated:len=")
	require.Equal(t, 3, params[2])
}
