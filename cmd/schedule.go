package cmd

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/Laisky/keyword-enricher/internal/global"
	"github.com/Laisky/keyword-enricher/library/log"
)

var scheduleCMD = &cobra.Command{
	Use:    "schedule",
	Short:  "schedule",
	Long:   `run the configured sources as one batch on every tick of settings.enrich.schedule`,
	Args:   gcmd.NoExtraArgs,
	PreRun: preRun,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if settings.Schedule == "" {
			log.Logger.Panic("settings.enrich.schedule is empty")
		}

		svc, err := global.SetupServices(ctx, settings, gconfig.Shared.GetBool("debug"))
		if err != nil {
			log.Logger.Panic("setup services", zap.Error(err))
		}
		defer svc.Close(context.WithoutCancel(ctx))

		go svc.Cache.RunSweeper(ctx, settings.Cache.SweepInterval)

		batch := func() {
			src, err := newBatchSource(settings.Source, nil, "", time.Now())
			if err != nil {
				log.Logger.Error("build keyword source", zap.Error(err))
				return
			}
			if _, err := svc.Orchestrator.Drain(ctx, src); err != nil {
				log.Logger.Error("scheduled batch", zap.Error(err))
			}
		}

		if err := runSchedule(ctx, settings.Schedule, batch, log.Logger.Named("schedule")); err != nil {
			log.Logger.Panic("schedule", zap.Error(err))
		}
	},
}

// runSchedule calls job on every tick of spec until ctx is done. A tick that
// arrives while the previous batch still runs is skipped.
func runSchedule(ctx context.Context, spec string, job func(), logger logSDK.Logger) error {
	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(spec, job); err != nil {
		return errors.Wrapf(err, "parse schedule %q", spec)
	}

	c.Start()
	logger.Info("scheduler started", zap.String("spec", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts the zap logger to cron.Logger.
type cronLogger struct {
	logger logSDK.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("kv", keysAndValues))
}

func init() {
	rootCMD.AddCommand(scheduleCMD)
}
