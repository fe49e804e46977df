package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/library/config"
	"github.com/Laisky/keyword-enricher/library/log"
)

// settings is loaded once by initialize.
var settings enrich.Settings

var rootCMD = &cobra.Command{
	Use:   "keyword-enricher",
	Short: "keyword-enricher",
	Long:  `turns keywords into validated, versioned, citation-carrying structured records`,
	Args:  gcmd.NoExtraArgs,
}

func initialize(ctx context.Context, cmd *cobra.Command) error {
	if err := gconfig.Shared.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind pflags")
	}

	if err := setupSettings(ctx); err != nil {
		return err
	}
	return setupLogger(ctx)
}

func setupSettings(_ context.Context) error {
	if gconfig.Shared.GetBool("debug") {
		fmt.Println("run in debug mode")
		gconfig.Shared.Set("log-level", "debug")
	} else {
		fmt.Println("run in prod mode")
	}

	if err := config.LoadEnvFile(gconfig.Shared.GetString("env-file"), true); err != nil {
		return errors.Wrap(err, "load env file")
	}
	config.LoadFromFile(gconfig.Shared.GetString("config"))

	if err := validateStartupConfig(); err != nil {
		return err
	}

	var err error
	if settings, err = enrich.LoadSettingsFromConfig(); err != nil {
		return errors.Wrap(err, "load settings")
	}
	if listen := gconfig.Shared.GetString("listen"); listen != "" {
		settings.Web.Listen = listen
	}

	return nil
}

func setupLogger(_ context.Context) error {
	lvl := gconfig.Shared.GetString("log-level")
	if err := log.Logger.ChangeLevel(glog.Level(lvl)); err != nil {
		return errors.Wrapf(err, "change log level to %q", lvl)
	}
	return nil
}

// preRun is shared by every subcommand.
func preRun(cmd *cobra.Command, _ []string) {
	if err := initialize(cmd.Context(), cmd); err != nil {
		log.Logger.Panic("init", zap.Error(err))
	}
}

func init() {
	rootCMD.PersistentFlags().Bool("debug", false, "run in debug mode")
	rootCMD.PersistentFlags().String("listen", "", "override web.listen, like `localhost:8080`")
	rootCMD.PersistentFlags().StringP("config", "c", "/etc/keyword-enricher/settings.yml", "config file path")
	rootCMD.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the config, missing file is ignored")
	rootCMD.PersistentFlags().String("log-level", "info", "`debug/info/error`")
}

// Execute execute root command, SIGINT and SIGTERM cancel its context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCMD.ExecuteContext(ctx); err != nil {
		glog.Shared.Panic("start", zap.Error(err))
	}
}
