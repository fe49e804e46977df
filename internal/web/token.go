package web

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
)

// requireToken checks the HS256 bearer token when a secret is configured.
func (s *Server) requireToken(ctx *gin.Context) {
	if s.jwt == nil {
		ctx.Next()
		return
	}

	claims, err := s.jwt.Parse(ctx.GetHeader("Authorization"))
	if err != nil {
		gmw.GetLogger(ctx).Info("reject token", zap.Error(err))
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "invalid or missing bearer token"})
		return
	}

	ctx.Set("token_subject", claims.Subject)
	ctx.Next()
}
