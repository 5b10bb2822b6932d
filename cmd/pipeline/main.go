// Command pipeline is the CLI entry point for the engagement data
// pipeline, wiring together source ingestion, bidirectional coding-tool
// sync, reconciliation, and imputation. Subcommand surface grounded on
// spec.md §6.3; cobra+viper pairing chosen as the idiomatic complement to
// the teacher's existing viper usage (see SPEC_FULL.md §1).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/backsync"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/cache"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/codingtool"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/columnview"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/config"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/engagementdb"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/events"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/forwardsync"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/identity"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/impute"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/ingest"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/reconcile"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/retry"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources/flowplatform"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources/groupcrawler"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/sources/webform"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/stats"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/telemetry"
)

// Exit codes per spec.md §6.3: 0 success, 1 unhandled/transient failure
// after retries, 2 configuration error.
const (
	exitOK            = 0
	exitRunFailure    = 1
	exitConfigFailure = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logger, err := telemetry.NewProductionLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialise logger:", err)
		return exitConfigFailure
	}
	defer logger.Sync()

	root := newRootCommand(logger)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if pipelineConfigErr, ok := err.(configError); ok {
			logger.Error("configuration error", zap.Error(pipelineConfigErr.err))
			return exitConfigFailure
		}
		logger.Error("run failed", zap.Error(err))
		return exitRunFailure
	}
	return exitOK
}

// configError marks an error as a configuration failure, so run() maps it
// to exit code 2 instead of the generic 1.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }

type runtime struct {
	cfg     config.Pipeline
	db      *pgxpool.Pool
	edb     engagementdb.EngagementDB
	ct      codingtool.CodingTool
	log     *zap.Logger
	events  *events.Publisher
	natsCli *events.Client
}

// close releases the runtime's pooled resources; deferred by every
// subcommand right after loadRuntime succeeds.
func (rt *runtime) close() {
	rt.db.Close()
	if rt.natsCli != nil {
		rt.natsCli.Close()
	}
}

// finish logs and publishes the stage's accumulated stats, satisfying
// spec.md §7's "aggregated and printed at the end of every run" and giving
// internal/events a real call site rather than leaving it unreachable.
func (rt *runtime) finish(stage string, s *stats.SyncStats) {
	rt.log.Info("sync stage complete", zap.String("stage", stage), zap.Any("counts", s.Snapshot()), zap.Int("total", s.Total()))
	if err := rt.events.PublishStageCompleted(stage, s); err != nil {
		rt.log.Warn("failed to publish stage completion event", zap.String("stage", stage), zap.Error(err))
	}
}

func newRootCommand(logger *zap.Logger) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the engagement data pipeline",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to the pipeline configuration file")
	config.RegisterFlags(root.PersistentFlags())

	loadRuntime := func(cmd *cobra.Command) (*runtime, error) {
		cfg, err := config.Load(configFile, cmd.Flags())
		if err != nil {
			return nil, configError{err}
		}
		pool, err := pgxpool.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return nil, configError{fmt.Errorf("connect to database: %w", err)}
		}

		var edb engagementdb.EngagementDB = engagementdb.NewPostgres(pool, logger)
		var ct codingtool.CodingTool = codingtool.NewPostgres(pool, logger)
		if cfg.DryRun {
			logger.Info("dry-run: mutating calls will be logged, not applied")
			edb = dryRunEDB{EngagementDB: edb, log: logger}
			ct = dryRunCodingTool{CodingTool: ct, log: logger}
		}

		var natsCli *events.Client
		var publisher *events.Publisher
		if cfg.NATSURL != "" {
			natsCli, err = events.Connect(cfg.NATSURL, logger)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("connect to nats: %w", err)
			}
		}
		publisher = events.NewPublisher(natsCli)

		return &runtime{
			cfg:     cfg,
			db:      pool,
			edb:     edb,
			ct:      ct,
			log:     logger,
			events:  publisher,
			natsCli: natsCli,
		}, nil
	}

	syncCmd := &cobra.Command{Use: "sync", Short: "Run one sync stage"}

	for _, kind := range []string{"flowplatform", "webform", "groupcrawler"} {
		kind := kind
		syncCmd.AddCommand(&cobra.Command{
			Use:   kind + "-to-engagement-db [dataset]",
			Short: "Pull upstream records for dataset and ingest them into the engagement database",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := loadRuntime(cmd)
				if err != nil {
					return err
				}
				defer rt.close()
				return runIngest(cmd.Context(), rt, kind, args[0])
			},
		})
	}

	syncCmd.AddCommand(&cobra.Command{
		Use:   "engagement-db-to-coda [dataset]",
		Short: "Push unsent engagement-database messages to the coding tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			engine := forwardsync.New(rt.edb, rt.ct, rt.cfg.PipelineConfig())
			engine.Log = rt.log
			if err := engine.SyncDataset(cmd.Context(), args[0]); err != nil {
				return err
			}
			rt.finish("engagement-db-to-coda", engine.Stats)
			return nil
		},
	})

	syncCmd.AddCommand(&cobra.Command{
		Use:   "coda-to-engagement-db [dataset]",
		Short: "Pull coder decisions back into the engagement database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			engine := backsync.New(rt.edb, rt.ct, rt.cfg.PipelineConfig())
			engine.Log = rt.log
			if err := engine.SyncDataset(cmd.Context(), args[0]); err != nil {
				return err
			}
			rt.finish("coda-to-engagement-db", engine.Stats)
			return nil
		},
	})

	root.AddCommand(syncCmd)

	root.AddCommand(&cobra.Command{
		Use:   "reconcile [dataset]",
		Short: "Bring the coding tool's users and code schemes in line with configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			if rt.cfg.SkipUpdatingCodaUsersAndSchemes {
				rt.log.Info("skipping reconciliation per configuration")
				return nil
			}
			reconcileCfg, ok := rt.cfg.ReconcileConfig(args[0])
			if !ok {
				return configError{fmt.Errorf("no dataset configuration for %q", args[0])}
			}
			engine := reconcile.New(rt.ct)
			engine.Log = rt.log
			return engine.Reconcile(cmd.Context(), reconcileCfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "engagement-db-to-analysis [dataset]",
		Short: "Run imputation and project the engagement database into analysis rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			return runAnalysis(cmd.Context(), rt, args[0])
		},
	})

	return root
}

// runIngest resolves the configured source.Client for kind/dataset, builds
// an ingest.Driver over it, and runs one incremental pass (component
// D/B/C), satisfying spec.md §6.3's `sync <source-kind>-to-engagement-db`
// subcommand.
func runIngest(ctx context.Context, rt *runtime, kind, dataset string) error {
	srcCfg, ok := rt.cfg.SourceConfig(kind, dataset)
	if !ok {
		return configError{fmt.Errorf("no %s source configuration for dataset %q", kind, dataset)}
	}

	driver, err := buildIngestDriver(rt, srcCfg, dataset)
	if err != nil {
		return err
	}
	if err := driver.Run(ctx); err != nil {
		return err
	}
	rt.finish(kind+"-to-engagement-db", driver.Stats)
	return nil
}

func buildIngestDriver(rt *runtime, srcCfg config.SourceDefinition, dataset string) (*ingest.Driver, error) {
	c, err := cache.New(rt.cfg.IncrementalCachePath, rt.log)
	if err != nil {
		return nil, err
	}
	uuidTable := identity.NewPostgresUUIDTable(identity.NewPoolQuerier(rt.db))

	var client sources.Client
	switch srcCfg.Kind {
	case "flowplatform":
		client = flowplatform.NewClient(flowPlatformAPI{newHTTPAPI(srcCfg.BaseURL, srcCfg.Token)}, flowplatform.Config{
			Domain: srcCfg.BaseURL, Token: srcCfg.Token, FlowName: srcCfg.FlowName, ResultField: srcCfg.ResultField,
		})
	case "webform":
		client = webform.NewClient(webFormAPI{newHTTPAPI(srcCfg.BaseURL, srcCfg.Token)}, webform.Config{
			FormID: srcCfg.FormID, QuestionName: srcCfg.QuestionName,
		})
	case "groupcrawler":
		client = groupcrawler.NewClient(groupCrawlerAPI{newHTTPAPI(srcCfg.BaseURL, srcCfg.Token)}, groupcrawler.Config{
			ChannelID: srcCfg.ChannelID,
		})
	default:
		return nil, configError{fmt.Errorf("unknown source kind %q", srcCfg.Kind)}
	}

	driver := ingest.New(client, rt.edb, uuidTable, c, dataset)
	driver.IgnoreInvalidIdentifiers = srcCfg.IgnoreInvalidIdentifiers
	driver.Log = rt.log
	return driver, nil
}

func runAnalysis(ctx context.Context, rt *runtime, dataset string) error {
	var msgs []model.Message
	readCtx, cancel := context.WithTimeout(ctx, retry.DefaultDeadline)
	err := retry.Do(readCtx, func() error {
		msgs = nil
		return rt.edb.IterateAll(readCtx, engagementdb.Filter{Dataset: dataset}, 500, func(m model.Message) error {
			msgs = append(msgs, m)
			return nil
		})
	})
	cancel()
	if err != nil {
		return fmt.Errorf("load messages for %s: %w", dataset, err)
	}

	engine := impute.New()
	engine.Log = rt.log
	engine.Config = rt.cfg.PipelineConfig()
	msgs = engine.ImputeAll(msgs)

	for _, m := range msgs {
		writeCtx, cancel := context.WithTimeout(ctx, retry.DefaultDeadline)
		err := retry.Do(writeCtx, func() error {
			return rt.edb.SetMessage(writeCtx, m, nil)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("persist imputed message %s: %w", m.MessageID, err)
		}
	}

	analysisCfgs := rt.cfg.AnalysisDatasetConfigs()
	rows := columnview.PerParticipant(msgs, analysisCfgs)
	columnview.ImputePass2(rows, analysisCfgs, time.Now)
	rt.log.Info("analysis projection complete", zap.Int("rows", len(rows)))
	rt.finish("engagement-db-to-analysis", engine.Stats)
	return nil
}
