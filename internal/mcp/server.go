// Package mcp exposes the enrichment pipeline as MCP tools.
package mcp

import (
	"context"
	"net/http"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	mcp "github.com/mark3labs/mcp-go/mcp"
	srv "github.com/mark3labs/mcp-go/server"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/internal/enrich/pipeline"
	"github.com/Laisky/keyword-enricher/library/log"
)

const (
	toolEnrichKeyword = "enrich_keyword"
	toolGetArtifact   = "get_artifact"
)

// Enricher runs one keyword through the pipeline.
type Enricher interface {
	Enrich(ctx context.Context, raw keyword.Raw) (*pipeline.Outcome, error)
}

// Server wraps the MCP server state for the HTTP transport.
type Server struct {
	handler       http.Handler
	logger        logSDK.Logger
	enricher      Enricher
	store         artifact.Store
	canonicalizer *keyword.Canonicalizer
}

// NewServer constructs a remote MCP server served by a single handler.
func NewServer(enricher Enricher, store artifact.Store, canonicalizer *keyword.Canonicalizer, logger logSDK.Logger) (*Server, error) {
	if enricher == nil || store == nil {
		return nil, errors.New("enricher and artifact store are required")
	}
	if canonicalizer == nil {
		canonicalizer = keyword.NewCanonicalizer(nil)
	}
	if logger == nil {
		logger = log.Logger
	}

	mcpServer := srv.NewMCPServer(
		"keyword-enricher",
		"1.0.0",
		srv.WithToolCapabilities(true),
		srv.WithInstructions("Use enrich_keyword to research a keyword into a cited report, "+
			"and get_artifact to read stored reports."),
		srv.WithRecovery(),
		srv.WithHooks(newMCPHooks(logger.Named("mcp_hooks"))),
	)

	s := &Server{
		logger:        logger.Named("mcp"),
		enricher:      enricher,
		store:         store,
		canonicalizer: canonicalizer,
	}
	s.handler = withHTTPLogging(srv.NewStreamableHTTPServer(mcpServer), s.logger.Named("http"))

	mcpServer.AddTool(mcp.NewTool(
		toolEnrichKeyword,
		mcp.WithDescription("Search the web for a keyword, synthesize a cited report and store it as a new version."),
		mcp.WithString("keyword", mcp.Required(), mcp.Description("Keyword to research.")),
		mcp.WithString("domain", mcp.Required(), mcp.Description("Report domain, like market, portfolio or risk.")),
		mcp.WithOpenWorldHintAnnotation(true),
	), s.handleEnrichKeyword)

	mcpServer.AddTool(mcp.NewTool(
		toolGetArtifact,
		mcp.WithDescription("Read the latest stored report of a keyword, or a given version."),
		mcp.WithString("keyword", mcp.Required(), mcp.Description("Keyword of the report.")),
		mcp.WithNumber("version", mcp.Description("Version to read, latest when omitted.")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	), s.handleGetArtifact)

	return s, nil
}

// Handler returns the HTTP handler that should be mounted to serve MCP traffic.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleEnrichKeyword(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("keyword")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	domain, err := req.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.enricher.Enrich(ctx, keyword.Raw{Text: text, Domain: domain})
	if err != nil {
		kind, _ := enrich.KindOf(err)
		s.logger.Info("enrich_keyword failed",
			zap.String("keyword", text), zap.String("kind", string(kind)), zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	return s.artifactResult(out.Artifact)
}

func (s *Server) handleGetArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("keyword")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kw := s.canonicalizer.Canonical(text)
	if kw == "" {
		return mcp.NewToolResultError("keyword cannot be empty"), nil
	}

	var a *artifact.Artifact
	if version := req.GetInt("version", 0); version > 0 {
		a, err = s.store.Get(ctx, kw, version)
	} else {
		a, err = s.store.Latest(ctx, kw)
	}
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return mcp.NewToolResultError("no artifact for " + kw), nil
		}
		s.logger.Error("get_artifact failed", zap.String("keyword", kw), zap.Error(err))
		return mcp.NewToolResultError("failed to load artifact"), nil
	}

	return s.artifactResult(a)
}

func (s *Server) artifactResult(a *artifact.Artifact) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(a)
	if err != nil {
		s.logger.Error("encode artifact", zap.Error(err))
		return mcp.NewToolResultError("failed to encode artifact"), nil
	}
	return result, nil
}
