package cmd

import (
	"context"
	"net/http"

	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/keyword-enricher/internal/global"
	"github.com/Laisky/keyword-enricher/internal/mcp"
	"github.com/Laisky/keyword-enricher/internal/web"
	"github.com/Laisky/keyword-enricher/library/log"
)

// mcpPath is where the MCP tools are served.
const mcpPath = "/mcp"

var apiCMD = &cobra.Command{
	Use:    "api",
	Short:  "api",
	Long:   `HTTP API and MCP tools for on-demand enrichment and artifact reads`,
	Args:   gcmd.NoExtraArgs,
	PreRun: preRun,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		debug := gconfig.Shared.GetBool("debug")

		svc, err := global.SetupServices(ctx, settings, debug)
		if err != nil {
			log.Logger.Panic("setup services", zap.Error(err))
		}
		defer svc.Close(context.WithoutCancel(ctx))

		go svc.Cache.RunSweeper(ctx, settings.Cache.SweepInterval)

		mcpServer, err := mcp.NewServer(svc.Orchestrator, svc.Store, svc.Canonicalizer,
			log.Logger.Named("mcp"))
		if err != nil {
			log.Logger.Panic("new mcp server", zap.Error(err))
		}

		server, err := web.NewServer(web.Options{
			Enricher:       svc.Orchestrator,
			Store:          svc.Store,
			Canonicalizer:  svc.Canonicalizer,
			JWTSecret:      settings.Web.JWTSecret,
			AllowedOrigins: settings.Web.AllowedOrigins,
			Extra:          map[string]http.Handler{mcpPath: mcpServer.Handler()},
			Logger:         log.Logger.Named("web"),
			Debug:          debug,
		})
		if err != nil {
			log.Logger.Panic("new web server", zap.Error(err))
		}

		if err := server.Run(ctx, settings.Web.Listen); err != nil {
			log.Logger.Panic("run web server", zap.Error(err))
		}
	},
}

func init() {
	rootCMD.AddCommand(apiCMD)
}
