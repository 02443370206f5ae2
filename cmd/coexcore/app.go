package main

import (
	"coexcore/internal/config"
	"coexcore/internal/core"
	"coexcore/internal/evidence"
	"coexcore/internal/graphsync"
	"coexcore/internal/observability"
	"coexcore/internal/platform/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// graphOpener connects the graph sync runner. Tests replace it.
type graphOpener func(ctx context.Context, cfg graphsync.Config) (graphsync.Runner, func(context.Context) error, error)

func openNeo4j(ctx context.Context, cfg graphsync.Config) (graphsync.Runner, func(context.Context) error, error) {
	client, err := graphsync.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

// app holds the per-invocation wiring shared by every command.
type app struct {
	stdout, stderr io.Writer

	configPath  string
	actor       string
	admins      []string
	trace       bool
	metricsFile string

	settings *config.Settings
	log      *logger.Logger
	backend  core.Backend
	svc      *core.Service
	metrics  *observability.Metrics
	registry *prometheus.Registry
	shutdown func(context.Context) error

	openGraph graphOpener
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, openGraph: openNeo4j}
}

func (a *app) open(ctx context.Context) error {
	settings, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.settings = settings
	log, err := logger.New(settings.Log.Mode, settings.Log.Level)
	if err != nil {
		return err
	}
	a.log = log.With("actor", a.actor)

	a.registry = prometheus.NewRegistry()
	a.metrics, err = observability.NewMetrics(a.registry, settings.Metrics.Namespace)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	opts := []core.ServiceOption{
		core.WithLogger(a.log),
		core.WithMetricsRecorder(a.metrics),
		core.WithAccessControl(evidence.OwnerAccess{Admins: a.admins}),
	}
	if a.trace {
		tp, shutdown, err := observability.NewStdoutProvider(a.stderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.shutdown = shutdown
		opts = append(opts, core.WithTracer(observability.NewTracer(tp)))
	}

	a.backend, err = core.OpenPersistentStore(ctx, settings.StorageConfig(), core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.svc = core.NewService(a.backend, opts...)
	if err := a.svc.Restore(ctx); err != nil {
		return err
	}
	a.log.Debug("backend opened", "driver", settings.Storage.Driver)
	return nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.svc != nil && a.metricsFile != "" {
		counts := make(map[string]int)
		for taxon, n := range a.svc.LinkCounts() {
			counts[strconv.FormatInt(int64(taxon), 10)] = n
		}
		a.metrics.SetLinkCounts(counts)
		if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.backend != nil {
		errs = append(errs, core.CloseBackend(a.backend))
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	if a.log != nil {
		a.log.Sync()
	}
	return errors.Join(errs...)
}

// run opens the service, calls fn and closes. State is checkpointed after
// fn succeeds when mutates is set.
func (a *app) run(cmd *cobra.Command, mutates bool, fn func(ctx context.Context, svc *core.Service) error) (err error) {
	ctx := cmd.Context()
	if err := a.open(ctx); err != nil {
		_ = a.close(ctx)
		return err
	}
	defer func() {
		err = errors.Join(err, a.close(ctx))
	}()
	if err := fn(ctx, a.svc); err != nil {
		return err
	}
	if mutates {
		return a.svc.Checkpoint(ctx)
	}
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "coexcore",
		Short:         "Gene coexpression store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file (COEXCORE_* env vars override)")
	flags.StringVar(&a.actor, "actor", "cli", "principal recorded on audit events")
	flags.StringSliceVar(&a.admins, "admin", nil, "actors allowed to edit any evidence")
	flags.BoolVar(&a.trace, "trace", false, "write operation spans to stderr")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")

	root.AddCommand(
		taxonCommand(a),
		geneCommand(a),
		experimentCommand(a),
		analysisCommand(a),
		neighborsCommand(a),
		statsCommand(a),
		curateCommand(a),
		auditCommand(a),
		evidenceCommand(a),
		exportCommand(a),
		graphSyncCommand(a),
	)
	return root
}
