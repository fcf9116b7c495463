package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/statline/internal/pipeline"
	"github.com/ajitpratap0/statline/pkg/catalog"
	"github.com/ajitpratap0/statline/pkg/clients"
	"github.com/ajitpratap0/statline/pkg/config"
	"github.com/ajitpratap0/statline/pkg/logger"
	"github.com/ajitpratap0/statline/pkg/metrics"
	"github.com/ajitpratap0/statline/pkg/observability"
	"github.com/ajitpratap0/statline/pkg/storage"
)

var version = "0.1.0"

// runFlags are the options of the run command.
type runFlags struct {
	datasetID       string
	datasetsFile    string
	source          string
	thirdParty      bool
	v4Only          bool
	env             string
	endpoint        string
	force           bool
	localDir        string
	configFile      string
	credentialsFile string
	accessToken     string
	logLevel        string
	pushgateway     string
	trace           bool
}

// errRunsFailed is returned when at least one dataset failed.
var errRunsFailed = errors.New("one or more datasets failed")

func main() {
	root := &cobra.Command{
		Use:   "statline",
		Short: "Statline - publish statistics datasets to cloud storage and BigQuery",
		Long: `Statline fetches statistics datasets over OData v3 or v4, converts every table
to Parquet and publishes the files to Cloud Storage as BigQuery external tables.
Unchanged datasets are skipped unless --force is given.`,
		SilenceUsage: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Statline v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	flags := &runFlags{}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Publish one or more datasets",
		Long: `Publish datasets end to end. Each dataset prints one JSON outcome line on stdout.

Example:
  statline run --dataset 83583NED --env dev --config statline.toml
  statline run --datasets datasets.toml --endpoint gcs --force
  statline run --dataset 83583NED --endpoint local --local-dir ./out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasets(cmd.Context(), flags)
		},
	}

	f := runCmd.Flags()
	f.StringVar(&flags.datasetID, "dataset", "", "Dataset identifier, for example 83583NED")
	f.StringVar(&flags.datasetsFile, "datasets", "", "TOML file listing dataset identifiers to publish in order")
	f.StringVar(&flags.source, "source", config.DefaultSource, "Data owner name; third-party datasets need their own")
	f.BoolVar(&flags.thirdParty, "third-party", false, "Dataset is hosted on the third-party v3 host")
	f.BoolVar(&flags.v4Only, "v4-only", false, "Skip version detection and use OData v4")
	f.StringVar(&flags.env, "env", string(config.TierDev), "Environment tier (dev, test, prod)")
	f.StringVar(&flags.endpoint, "endpoint", string(pipeline.EndpointBigQuery), "How far to publish (local, gcs, bq)")
	f.BoolVar(&flags.force, "force", false, "Publish even when the source is unchanged")
	f.StringVar(&flags.localDir, "local-dir", "", "Output directory, overriding the configured paths")
	f.StringVar(&flags.configFile, "config", "", "Path to configuration file (TOML, YAML or JSON)")
	f.StringVar(&flags.credentialsFile, "credentials-file", "", "Service account key file for Cloud Storage and BigQuery")
	f.StringVar(&flags.accessToken, "access-token", "", "OAuth2 access token for Cloud Storage and BigQuery")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error), overriding the configuration")
	f.StringVar(&flags.pushgateway, "pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
	f.BoolVar(&flags.trace, "trace", false, "Export run traces to stderr")
	runCmd.MarkFlagsMutuallyExclusive("dataset", "datasets")
	runCmd.MarkFlagsOneRequired("dataset", "datasets")
	runCmd.MarkFlagsMutuallyExclusive("credentials-file", "access-token")

	root.AddCommand(runCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func runDatasets(ctx context.Context, flags *runFlags) error {
	endpoint, err := pipeline.ParseEndpoint(flags.endpoint)
	if err != nil {
		return err
	}
	tier, err := config.ParseTier(flags.env)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(flags.configFile, endpoint)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ids := []string{flags.datasetID}
	if flags.datasetsFile != "" {
		if ids, err = config.LoadDatasets(flags.datasetsFile); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	var tracer *observability.Tracer
	if flags.trace {
		tcfg := observability.DefaultTracingConfig()
		tcfg.ServiceVersion = version
		tcfg.Environment = string(tier)
		tp, err := observability.NewTracerProvider(ctx, tcfg)
		if err != nil {
			return fmt.Errorf("failed to start tracing: %w", err)
		}
		defer func() {
			if err := observability.Shutdown(context.Background(), tp); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
		tracer = observability.NewTracer(tp)
	}

	deps := pipeline.Dependencies{
		Metrics: collector,
		Tracer:  tracer,
		Logger:  log,
	}
	var httpClient *clients.HTTPClient
	deps.Discovery, deps.Fetcher, httpClient = pipeline.NewSourceClients(cfg, log, collector)

	if endpoint != pipeline.EndpointLocal {
		target, err := cfg.ResolveEnvironment(tier, flags.source)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		opts := clientOptions(flags)

		store, err := storage.NewGCSStore(ctx, log, opts...)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck
		deps.Store = store

		if endpoint == pipeline.EndpointBigQuery {
			bq, err := catalog.NewBigQueryCatalog(ctx, target.ProjectID, log, opts...)
			if err != nil {
				return err
			}
			defer bq.Close() //nolint:errcheck
			deps.Catalog = bq
		}
	}

	coord := pipeline.New(cfg, deps)
	enc := gojson.NewEncoder(os.Stdout)
	ctx = logger.WithRunID(ctx, fmt.Sprintf("batch-%d", time.Now().Unix()))

	failed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			log.Warn("interrupted, not starting remaining datasets", zap.String("next", id))
			failed++
			break
		}

		outcome, err := coord.Run(ctx, pipeline.Request{
			DatasetID:  id,
			Source:     flags.source,
			ThirdParty: flags.thirdParty,
			V4Only:     flags.v4Only,
			Tier:       tier,
			Endpoint:   endpoint,
			Force:      flags.force,
			LocalDir:   flags.localDir,
		})
		if err != nil {
			failed++
		}
		if encErr := enc.Encode(outcome); encErr != nil {
			log.Error("failed to write outcome", zap.String("dataset_id", id), zap.Error(encErr))
		}
	}

	if flags.pushgateway != "" {
		if err := collector.Push(context.Background(), flags.pushgateway, "statline"); err != nil {
			log.Warn("failed to push metrics", zap.String("url", flags.pushgateway), zap.Error(err))
		}
	}

	stats := httpClient.GetStats()
	log = logger.FromContext(ctx, log).With(
		zap.Int("datasets", len(ids)),
		zap.Int64("http_requests", stats.TotalRequests),
		zap.Int64("http_failures", stats.FailedRequests))
	if failed > 0 {
		log.Error("run finished with failures", zap.Int("failed", failed))
		return errRunsFailed
	}
	log.Info("run finished")
	return nil
}

// loadConfig reads the configuration file. A local run without a file uses
// the defaults, since it needs no cloud target.
func loadConfig(path string, endpoint pipeline.Endpoint) (*config.Config, error) {
	if path == "" && endpoint == pipeline.EndpointLocal {
		return config.Default(), nil
	}
	return config.Load(path)
}

func clientOptions(flags *runFlags) []option.ClientOption {
	switch {
	case flags.accessToken != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: flags.accessToken})
		return []option.ClientOption{option.WithTokenSource(ts)}
	case flags.credentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(flags.credentialsFile)}
	default:
		return nil
	}
}
