package mcp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	mcp "github.com/mark3labs/mcp-go/mcp"
	srv "github.com/mark3labs/mcp-go/server"
)

const httpLogBodyLimit = 4096

// newMCPHooks logs every MCP request with credentials redacted.
func newMCPHooks(logger logSDK.Logger) *srv.Hooks {
	hooks := &srv.Hooks{}

	hooks.AddBeforeAny(func(ctx context.Context, id any, method mcp.MCPMethod, message any) {
		logger.Debug("mcp request received",
			append(hookLogFields(ctx, id, method), zap.String("request", redactHookPayload(message)))...)
	})

	hooks.AddBeforeCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest) {
		logger.Info("mcp tool called",
			append(hookLogFields(ctx, id, mcp.MethodToolsCall), zap.String("tool", req.Params.Name))...)
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		fields := append(hookLogFields(ctx, id, method), zap.Error(err))
		if isUnsupportedProbe(method, err) {
			logger.Debug("mcp probe of unsupported capability", fields...)
			return
		}
		logger.Error("mcp request failed", fields...)
	})

	hooks.AddOnRegisterSession(func(ctx context.Context, session srv.ClientSession) {
		logger.Info("mcp session registered", zap.String("session_id", session.SessionID()))
	})

	return hooks
}

// isUnsupportedProbe reports clients probing for resources, which this server has none of.
func isUnsupportedProbe(method mcp.MCPMethod, err error) bool {
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "not supported") {
		return false
	}
	switch method {
	case mcp.MethodResourcesList, mcp.MethodResourcesTemplatesList, mcp.MethodPromptsList:
		return true
	default:
		return false
	}
}

func hookLogFields(ctx context.Context, id any, method mcp.MCPMethod) []zap.Field {
	fields := []zap.Field{
		zap.Any("request_id", id),
		zap.String("method", string(method)),
	}
	if session := srv.ClientSessionFromContext(ctx); session != nil {
		fields = append(fields, zap.String("session_id", session.SessionID()))
	}
	return fields
}

// withHTTPLogging logs redacted request and response bodies at debug level.
func withHTTPLogging(next http.Handler, logger logSDK.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startAt := time.Now()
		var body string
		if r.Body != nil {
			data, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Warn("read request body", zap.Error(err))
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(data))
			body = truncateForLog(data, httpLogBodyLimit)
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		logger.Debug("mcp http exchange",
			zap.String("method", r.Method),
			zap.String("url", r.URL.Path),
			zap.String("body", redactMCPBody(body)),
			zap.Int("status", rec.Status()),
			zap.String("response", redactMCPBody(rec.body.String())),
			zap.String("session_id", r.Header.Get(srv.HeaderKeySessionID)),
			zap.Duration("cost", time.Since(startAt)))
	})
}

// statusRecorder keeps the status and the first bytes of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if remaining := httpLogBodyLimit - r.body.Len(); remaining > 0 {
		if len(b) > remaining {
			r.body.Write(b[:remaining])
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Flush keeps streamable responses streaming.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func truncateForLog(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit])
}
