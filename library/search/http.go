package search

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
)

// secretParams are query parameters never written to logs.
var secretParams = []string{"key", "api_key", "apikey", "token"}

// RedactURL returns u as a string with credential query parameters masked.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	cloned := *u
	params := cloned.Query()
	for _, name := range secretParams {
		if params.Has(name) {
			params.Set(name, "***")
		}
	}
	cloned.RawQuery = params.Encode()
	return cloned.String()
}

// ContextLogger prefers the request scoped logger stored in ctx.
func ContextLogger(ctx context.Context, fallback logSDK.Logger, name string) logSDK.Logger {
	if ctx != nil {
		if ctxLogger := gmw.GetLogger(ctx); ctxLogger != nil {
			return ctxLogger.Named(name)
		}
	}
	return fallback
}

// Exchange sends req and returns the body of a 2xx response.
// Other statuses come back as *StatusError so callers can classify them.
func Exchange(client *http.Client, logger logSDK.Logger, engine string, req *http.Request) ([]byte, error) {
	if logger != nil {
		logger.Debug("outgoing http request",
			zap.String("method", req.Method),
			zap.String("url", RedactURL(req.URL)),
		)
	}

	startAt := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "send %s request", engine)
	}
	defer resp.Body.Close() // nolint: errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s response body", engine)
	}

	if logger != nil {
		truncatedBody, truncated := TruncateForLog(body)
		logger.Debug("incoming http response",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncatedBody),
			zap.Bool("body_truncated", truncated),
			zap.Duration("cost", time.Since(startAt)),
		)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, NewStatusError(engine, resp.StatusCode, body)
	}

	return body, nil
}
