package cmd

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/keyword-enricher/internal/enrich"
	"github.com/Laisky/keyword-enricher/internal/enrich/source"
	"github.com/Laisky/keyword-enricher/internal/global"
	"github.com/Laisky/keyword-enricher/library/config"
	"github.com/Laisky/keyword-enricher/library/log"
)

var runCMD = &cobra.Command{
	Use:   "run",
	Short: "run one batch",
	Long: `enrich the keywords given by flags, or every configured source when none
is given. --kafka consumes the configured topic until interrupted.`,
	Args:   gcmd.NoExtraArgs,
	PreRun: preRun,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		keywords, _ := cmd.Flags().GetStringSlice("keyword")
		domain, _ := cmd.Flags().GetString("domain")
		useKafka, _ := cmd.Flags().GetBool("kafka")

		svc, err := global.SetupServices(ctx, settings, gconfig.Shared.GetBool("debug"))
		if err != nil {
			log.Logger.Panic("setup services", zap.Error(err))
		}
		defer svc.Close(context.WithoutCancel(ctx))

		var src source.Source
		if useKafka {
			kafka, err := newKafkaSource(ctx, settings.Source)
			if err != nil {
				log.Logger.Panic("setup kafka source", zap.Error(err))
			}
			defer kafka.Close()
			src = kafka
		} else if src, err = newBatchSource(settings.Source, keywords, domain, time.Now()); err != nil {
			log.Logger.Panic("setup keyword source", zap.Error(err))
		}

		report, err := svc.Orchestrator.Drain(ctx, src)
		if err != nil {
			log.Logger.Error("run interrupted", zap.Error(err))
			return
		}
		if report.FailedTotal() > 0 {
			log.Logger.Warn("batch finished with failures",
				zap.Int("failed", report.FailedTotal()),
				zap.Int("total", report.Total))
		}
	},
}

// newBatchSource returns the finite source of one batch. Flag keywords win
// over configured sources.
func newBatchSource(s enrich.SourceSettings, keywords []string, domain string, now time.Time) (source.Source, error) {
	if len(keywords) > 0 {
		if domain == "" {
			domain = s.StaticDomain
		}
		return source.FromStrings(domain, keywords...), nil
	}

	sources := make([]source.Source, 0, 3)
	if len(s.Static) > 0 {
		sources = append(sources, source.FromStrings(s.StaticDomain, s.Static...))
	}
	if len(s.Market) > 0 {
		market, err := source.NewMarket(s.Market...)
		if err != nil {
			return nil, errors.Wrap(err, "market source")
		}
		sources = append(sources, market)
	}
	if s.PortfolioFile != "" {
		portfolio, err := source.NewPortfolioFile(config.ResolvePath(s.PortfolioFile), now)
		if err != nil {
			return nil, errors.Wrap(err, "portfolio source")
		}
		sources = append(sources, portfolio)
	}

	if len(sources) == 0 {
		return nil, errors.New("no keyword given and no source configured")
	}
	return source.NewConcat(sources...), nil
}

func newKafkaSource(ctx context.Context, s enrich.SourceSettings) (*source.KafkaSource, error) {
	if len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}

	return source.NewKafkaSource(ctx, source.KafkaConfig{
		Brokers:       s.Kafka.Brokers,
		Topic:         s.Kafka.Topic,
		GroupID:       s.Kafka.GroupID,
		DefaultDomain: s.StaticDomain,
	})
}

func init() {
	runCMD.Flags().StringSliceP("keyword", "k", nil, "keywords to enrich, like `-k 'FOMC meetings calendar'`")
	runCMD.Flags().String("domain", "", "domain of --keyword, defaults to source.static_domain")
	runCMD.Flags().Bool("kafka", false, "consume keywords from the configured kafka topic")
	rootCMD.AddCommand(runCMD)
}
