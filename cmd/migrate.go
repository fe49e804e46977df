package cmd

import (
	"context"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/keyword-enricher/internal/enrich/artifact"
	"github.com/Laisky/keyword-enricher/internal/global"
	"github.com/Laisky/keyword-enricher/library/log"
)

var migrateCMD = &cobra.Command{
	Use:    "migrate",
	Short:  "migrate",
	Long:   `create the artifact table or mongo indexes of the configured backend`,
	Args:   gcmd.NoExtraArgs,
	PreRun: preRun,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		dbs, err := global.SetupDB(ctx, settings, gconfig.Shared.GetBool("debug"))
		if err != nil {
			log.Logger.Panic("setup db", zap.Error(err))
		}
		defer dbs.Close(context.WithoutCancel(ctx))

		if err := migrate(ctx, dbs); err != nil {
			log.Logger.Panic("migrate", zap.Error(err))
		}
		log.Logger.Info("migrated", zap.String("backend", settings.Artifact.Backend))
	},
}

func migrate(ctx context.Context, dbs *global.DBs) error {
	switch {
	case dbs.Gorm != nil:
		store, err := artifact.NewGormStore(dbs.Gorm)
		if err != nil {
			return err
		}
		return store.Migrate(ctx)
	case dbs.Mongo != nil:
		store, err := artifact.NewMongoStore(dbs.Mongo.Collection(artifact.ColArtifacts))
		if err != nil {
			return err
		}
		return store.EnsureIndexes(ctx)
	default:
		return errors.Errorf("artifact backend %q needs no migration", settings.Artifact.Backend)
	}
}

func init() {
	rootCMD.AddCommand(migrateCMD)
}
