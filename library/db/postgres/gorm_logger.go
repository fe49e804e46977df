package postgres

import (
	"context"
	"fmt"

	gormLogger "gorm.io/gorm/logger"
)

const defaultMaxLoggedParamLength = 256

// truncatingParamsLogger shortens oversized SQL parameters, such as json
// encoded artifact fields, before GORM prints SQL logs.
type truncatingParamsLogger struct {
	gormLogger.Interface
	maxLoggedParamLength int
}

// ParamsFilter implements gorm's ParamsFilter.
func (l *truncatingParamsLogger) ParamsFilter(_ context.Context, sql string, params ...any) (string, []any) {
	if len(params) == 0 {
		return sql, params
	}

	return sql, sanitizeLoggedSQLParams(l.maxLoggedParamLength, params...)
}

func newTruncatingParamsLogger(base gormLogger.Interface) gormLogger.Interface {
	return &truncatingParamsLogger{
		Interface:            base,
		maxLoggedParamLength: defaultMaxLoggedParamLength,
	}
}

func sanitizeLoggedSQLParams(maxLen int, params ...any) []any {
	filtered := make([]any, len(params))
	for idx, param := range params {
		filtered[idx] = sanitizeLoggedSQLParam(param, maxLen)
	}
	return filtered
}

// sanitizeLoggedSQLParam replaces oversized values with a length summary.
func sanitizeLoggedSQLParam(param any, maxLen int) any {
	switch value := param.(type) {
	case string:
		if len(value) > maxLen {
			return fmt.Sprintf("%s...<truncated:len=%d>", value[:maxLen], len(value))
		}
		return value
	case []byte:
		if len(value) > maxLen {
			return fmt.Sprintf("<bytes:len=%d,truncated>", len(value))
		}
		return value
	default:
		return param
	}
}
