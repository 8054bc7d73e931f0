package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apiary/apiary/pkg/config"
	"github.com/apiary/apiary/pkg/hive"
	"github.com/apiary/apiary/pkg/stores"
	"github.com/apiary/apiary/pkg/telemetry"
)

// metrics is the process-wide collector, built once per invocation from the
// --metrics-listen flag. Nil keeps every record call a no-op.
var metrics *telemetry.Metrics

// setupMetrics builds the collector for the given listen address. An empty
// address disables collection.
func setupMetrics(addr string) (*telemetry.Metrics, error) {
	return telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:       addr != "",
		Namespace:     "apiary",
		ListenAddress: addr,
	})
}

// initMetrics builds the process collector and serves its endpoint in the
// background when --metrics-listen is set.
func initMetrics() error {
	m, err := setupMetrics(metricsAddr)
	if err != nil {
		return fmt.Errorf("configuring metrics: %w", err)
	}
	metrics = m
	if metrics == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Warn().Err(err).Str("addr", metricsAddr).Msg("Metrics endpoint stopped")
		}
	}()

	return nil
}

// loadedHive bundles everything a command needs after parsing the hive
// sources.
type loadedHive struct {
	hive    *hive.Hive
	parser  *config.HiveParser
	sources []string
}

// commandLogger derives the logger commands hand down to the library
// packages, honoring the --verbose flag.
func commandLogger() zerolog.Logger {
	logger := log.Logger
	if verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}
	return logger
}

// loadHive parses the hive sources named by the --hive flag. A directory is
// scanned for CUE files; anything else is treated as a single source file.
func loadHive(ctx context.Context) (*loadedHive, error) {
	info, err := os.Stat(hivePath)
	if err != nil {
		return nil, fmt.Errorf("hive path %s: %w", hivePath, err)
	}

	sources := []string{hivePath}
	if info.IsDir() {
		sources, err = config.DiscoverSources(hivePath)
		if err != nil {
			return nil, err
		}
		if len(sources) == 0 {
			return nil, fmt.Errorf("no CUE files found under %s", hivePath)
		}
	}

	parser := config.NewHiveParser(commandLogger())
	h, err := parser.LoadHive(ctx, sources)
	if err != nil {
		return nil, err
	}

	return &loadedHive{hive: h, parser: parser, sources: sources}, nil
}

// newNodeResolver wires the package-set resolver and node resolver for a
// loaded hive.
func (lh *loadedHive) newNodeResolver() *hive.NodeResolver {
	logger := commandLogger()
	packSets := hive.NewPackageSetResolver(lh.parser.PathLoader(), logger).WithMetrics(metrics)
	return hive.NewNodeResolver(packSets, nil, logger, metrics)
}

// openRecorder opens the evaluation history database named by a --db flag.
// The caller closes the returned store. A nil recorder means history
// recording is off.
func openRecorder(ctx context.Context, dbPath string) (*stores.Recorder, stores.Store, error) {
	if dbPath == "" {
		return nil, nil, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("initializing history database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("migrating history database: %w", err)
	}

	return stores.NewRecorder(store), store, nil
}

// recordEvaluation writes one completed evaluation to the history database.
// Recording failures are reported but never fail the command.
func recordEvaluation(ctx context.Context, recorder *stores.Recorder, lh *loadedHive, rh *hive.ResolvedHive) string {
	if recorder == nil {
		return ""
	}

	evalID, err := recorder.BeginEvaluation(ctx, lh.hive.Meta.Name, lh.sources)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to record evaluation")
		return ""
	}
	if err := recorder.CompleteEvaluation(ctx, evalID, rh); err != nil {
		log.Warn().Err(err).Msg("Failed to complete evaluation record")
		return ""
	}

	return evalID
}
