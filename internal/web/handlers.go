package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/enrich/keyword"
	"github.com/Laisky/keyword-enricher/internal/enrich/render"
)

type enrichRequest struct {
	Keyword string `json:"keyword" binding:"required"`
	Domain  string `json:"domain"`
}

type errorResponse struct {
	Error string      `json:"error"`
	Kind  enrich.Kind `json:"kind,omitempty"`
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind enrich.Kind) int {
	switch kind {
	case enrich.KindInvalidInput:
		return http.StatusBadRequest
	case enrich.KindDuplicateInFlight, enrich.KindPersistenceConflict:
		return http.StatusConflict
	case enrich.KindSearchUnavailable:
		return http.StatusServiceUnavailable
	case enrich.KindValidationRejected, enrich.KindSynthesisFailed:
		return http.StatusUnprocessableEntity
	case enrich.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(ctx *gin.Context, err error) {
	kind, ok := enrich.KindOf(err)
	if !ok {
		kind = enrich.KindInternal
	}
	status := statusOf(kind)
	if status >= http.StatusInternalServerError {
		gmw.GetLogger(ctx).Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	ctx.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Kind: kind})
}

func (s *Server) enrich(ctx *gin.Context) {
	req := new(enrichRequest)
	if err := ctx.ShouldBindJSON(req); err != nil {
		abortWithError(ctx, enrich.NewError(enrich.KindInvalidInput, "", "bad request body", err))
		return
	}

	logger := gmw.GetLogger(ctx).With(zap.String("keyword", req.Keyword), zap.String("domain", req.Domain))
	out, err := s.enricher.Enrich(ctx.Request.Context(), keyword.Raw{Text: req.Keyword, Domain: req.Domain})
	if err != nil {
		logger.Info("enrich failed", zap.Error(err))
		abortWithError(ctx, err)
		return
	}

	view, err := newEnrichView(out)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

func (s *Server) failures(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"failures": s.enricher.Failures()})
}

func (s *Server) latestArtifact(ctx *gin.Context) {
	kw := s.canonicalizer.Canonical(ctx.Param("keyword"))
	a, err := s.store.Latest(ctx.Request.Context(), kw)
	if err != nil {
		s.abortStoreError(ctx, kw, err)
		return
	}
	s.writeArtifact(ctx, a)
}

func (s *Server) artifactVersion(ctx *gin.Context) {
	kw := s.canonicalizer.Canonical(ctx.Param("keyword"))
	version, err := strconv.Atoi(ctx.Param("version"))
	if err != nil || version < 1 {
		abortWithError(ctx, enrich.NewError(enrich.KindInvalidInput, kw,
			"version must be a positive integer", err))
		return
	}

	a, err := s.store.Get(ctx.Request.Context(), kw, version)
	if err != nil {
		s.abortStoreError(ctx, kw, err)
		return
	}
	s.writeArtifact(ctx, a)
}

func (s *Server) listArtifacts(ctx *gin.Context) {
	q := artifact.Query{Domain: strings.ToLower(strings.TrimSpace(ctx.Query("domain")))}

	var err error
	if q.From, err = parseTime(ctx.Query("from")); err != nil {
		abortWithError(ctx, enrich.NewError(enrich.KindInvalidInput, "", "bad from", err))
		return
	}
	if q.To, err = parseTime(ctx.Query("to")); err != nil {
		abortWithError(ctx, enrich.NewError(enrich.KindInvalidInput, "", "bad to", err))
		return
	}
	if raw := ctx.Query("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			abortWithError(ctx, enrich.NewError(enrich.KindInvalidInput, "", "bad limit", err))
			return
		}
	}

	items, err := s.store.List(ctx.Request.Context(), q)
	if err != nil {
		abortWithError(ctx, errors.Wrap(err, "list artifacts"))
		return
	}

	views, err := newArtifactViews(items)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"artifacts": views})
}

func (s *Server) abortStoreError(ctx *gin.Context, kw string, err error) {
	if errors.Is(err, artifact.ErrNotFound) {
		ctx.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "no artifact for " + kw})
		return
	}
	abortWithError(ctx, errors.Wrapf(err, "load artifact %q", kw))
}

func (s *Server) writeArtifact(ctx *gin.Context, a *artifact.Artifact) {
	switch strings.ToLower(ctx.DefaultQuery("format", "json")) {
	case "markdown", "md":
		ctx.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(render.Markdown(a)))
	case "html":
		ctx.Data(http.StatusOK, "text/html; charset=utf-8", render.HTML(a))
	case "json":
		view, err := newArtifactView(a)
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, view)
	default:
		abortWithError(ctx, enrich.NewError(enrich.KindInvalidInput, a.Keyword,
			"format must be json, markdown or html", nil))
	}
}

// parseTime accepts any layout dateparse knows, empty means unbounded.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", raw)
	}
	return t, nil
}
