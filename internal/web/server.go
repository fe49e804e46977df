// Package web serves the enrichment pipeline over HTTP.
package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/internal/enrich/pipeline"
	"github.com/Laisky/keyword-enricher/library/jwt"
	"github.com/Laisky/keyword-enricher/library/log"
)

// Enricher is the part of the orchestrator the API drives.
type Enricher interface {
	Enrich(ctx context.Context, raw keyword.Raw) (*pipeline.Outcome, error)
	Failures() []pipeline.FailureRecord
}

// Options configures a Server.
type Options struct {
	Enricher      Enricher
	Store         artifact.Store
	Canonicalizer *keyword.Canonicalizer
	// JWTSecret guards POST /enrich when set.
	JWTSecret      string
	AllowedOrigins []string
	// Extra are mounted as-is, like the MCP endpoint.
	Extra  map[string]http.Handler
	Logger logSDK.Logger
	Debug  bool
}

// Server is the HTTP API.
type Server struct {
	enricher      Enricher
	store         artifact.Store
	canonicalizer *keyword.Canonicalizer
	jwt           *jwt.JWT
	origins       []string
	logger        logSDK.Logger
	engine        *gin.Engine
}

// NewServer builds the router.
func NewServer(opt Options) (*Server, error) {
	if opt.Enricher == nil || opt.Store == nil {
		return nil, errors.New("enricher and artifact store are required")
	}
	if opt.Canonicalizer == nil {
		opt.Canonicalizer = keyword.NewCanonicalizer(nil)
	}
	if opt.Logger == nil {
		opt.Logger = log.Logger.Named("web")
	}

	s := &Server{
		enricher:      opt.Enricher,
		store:         opt.Store,
		canonicalizer: opt.Canonicalizer,
		origins:       opt.AllowedOrigins,
		logger:        opt.Logger,
	}
	if opt.JWTSecret != "" {
		var err error
		if s.jwt, err = jwt.New([]byte(opt.JWTSecret)); err != nil {
			return nil, errors.Wrap(err, "setup jwt")
		}
	}

	if !opt.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s.engine = gin.New()
	s.engine.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(gmw.WithLogger(s.logger.Named("gin"))),
		s.allowCORS,
	)
	s.routes(opt.Extra)

	return s, nil
}

func (s *Server) routes(extra map[string]http.Handler) {
	s.engine.GET("/health", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "hello, world")
	})

	s.engine.POST("/enrich", s.requireToken, s.enrich)
	s.engine.GET("/failures", s.failures)
	s.engine.GET("/artifacts", s.listArtifacts)
	s.engine.GET("/artifacts/:keyword/latest", s.latestArtifact)
	s.engine.GET("/artifacts/:keyword/versions/:version", s.artifactVersion)

	for path, h := range extra {
		s.engine.Any(path, gin.WrapH(h))
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves addr until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on http", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server exit")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}

// originAllowed matches host against the configured origins.
// An entry like ".example.com" matches example.com and its subdomains.
func (s *Server) originAllowed(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, allowed := range s.origins {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if strings.HasPrefix(allowed, ".") {
			if strings.HasSuffix(host, allowed) || host == allowed[1:] {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

func (s *Server) allowCORS(ctx *gin.Context) {
	origin := ctx.Request.Header.Get("Origin")
	switch {
	case origin != "" && s.originAllowed(origin):
		ctx.Header("Access-Control-Allow-Origin", origin)
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, Mcp-Session-Id")
		ctx.Header("Access-Control-Max-Age", "86400")
		ctx.Header("Vary", "Origin")

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
	case origin != "" && ctx.Request.Method == http.MethodOptions:
		ctx.AbortWithStatus(http.StatusForbidden)
		return
	}

	ctx.Next()
}
