package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/waterfall-cli/internal/config"
	"github.com/sells-group/waterfall-cli/internal/fetcher"
	"github.com/sells-group/waterfall-cli/internal/model"
	"github.com/sells-group/waterfall-cli/internal/pipeline"
	"github.com/sells-group/waterfall-cli/internal/sink"
	"github.com/sells-group/waterfall-cli/internal/store"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run the waterfall harvest pipeline",
	Long: `Fetch each configured KML geo-index, scrape every waterfall's detail page,
and write the merged records to the configured sinks.

Batches come from harvest.batches in config.yaml, or from a standalone YAML
file via --batches. A batch whose index cannot be fetched or parsed is
skipped; a record whose detail page fails is kept with whatever fields were
resolved. The command exits non-zero when any record was unprocessable or any
batch failed outright.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zap.L().With(zap.String("command", "harvest"))

		batches, err := resolveBatches(cmd)
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			return eris.New("harvest: no batches configured (set harvest.batches or pass --batches)")
		}

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:   cfg.Fetch.UserAgent,
			Timeout:     time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			PerHostRate: rate.Limit(cfg.Fetch.PerHostRate),
		})
		p := pipeline.New(f, pipeline.Options{Concurrency: cfg.Harvest.Concurrency})

		log.Info("starting harvest", zap.Int("batches", len(batches)))
		res := p.Run(ctx, batches)

		if err := writeOutputs(ctx, cmd, res); err != nil {
			return err
		}

		log.Info("harvest complete",
			zap.Int("records", len(res.Records)),
			zap.Int("unprocessable", res.Unprocessable),
			zap.Int("failed_batches", res.FailedBatches),
		)

		if res.Unprocessable > 0 || res.FailedBatches > 0 {
			return eris.Errorf("harvest: %d unprocessable records, %d failed batches",
				res.Unprocessable, res.FailedBatches)
		}
		return nil
	},
}

func init() {
	harvestCmd.Flags().String("batches", "", "YAML file of {prefix, index_url} batches (overrides config)")
	harvestCmd.Flags().String("csv", "", "CSV output path (overrides config)")
	harvestCmd.Flags().String("geojson", "", "GeoJSON output path (overrides config)")
	rootCmd.AddCommand(harvestCmd)
}

// resolveBatches returns the batches file contents when --batches is set,
// otherwise the batches from config.
func resolveBatches(cmd *cobra.Command) ([]model.SourceBatch, error) {
	path, _ := cmd.Flags().GetString("batches")
	if path != "" {
		return config.LoadBatches(path)
	}
	return cfg.Batches(), nil
}

// writeOutputs sends the run's records to every configured sink: CSV,
// GeoJSON, and the optional record store.
func writeOutputs(ctx context.Context, cmd *cobra.Command, res *model.RunResult) error {
	csvPath, _ := cmd.Flags().GetString("csv")
	if csvPath == "" {
		csvPath = cfg.Output.CSVPath
	}
	if csvPath != "" {
		if err := sink.WriteCSV(csvPath, res.Records); err != nil {
			return eris.Wrap(err, "harvest: write csv")
		}
		zap.L().Info("harvest: csv written", zap.String("path", csvPath), zap.Int("records", len(res.Records)))
	}

	geojsonPath, _ := cmd.Flags().GetString("geojson")
	if geojsonPath == "" {
		geojsonPath = cfg.Output.GeoJSONPath
	}
	if geojsonPath != "" {
		if err := sink.WriteGeoJSON(geojsonPath, res.Records); err != nil {
			return eris.Wrap(err, "harvest: write geojson")
		}
		zap.L().Info("harvest: geojson written", zap.String("path", geojsonPath))
	}

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return eris.Wrap(err, "harvest: open store")
	}
	if st == nil {
		return nil
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "harvest: migrate store")
	}
	runID, err := st.CreateRun(ctx)
	if err != nil {
		return eris.Wrap(err, "harvest: create run")
	}
	if err := st.SaveRecords(ctx, runID, res.Records); err != nil {
		return eris.Wrap(err, "harvest: save records")
	}
	if err := st.CompleteRun(ctx, runID, len(res.Records), res.Unprocessable, res.FailedBatches); err != nil {
		return eris.Wrap(err, "harvest: complete run")
	}
	zap.L().Info("harvest: run persisted", zap.String("run_id", runID))
	return nil
}
