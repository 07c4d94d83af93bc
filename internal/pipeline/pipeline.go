// Package pipeline drives the two-phase harvest: fetch and parse each
// jurisdiction's KML index, then enrich every candidate from its detail page.
// Failures are isolated at the narrowest useful scope: a bad batch skips only
// that batch, a bad record only that record.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/waterfall-cli/internal/detail"
	"github.com/sells-group/waterfall-cli/internal/fetcher"
	"github.com/sells-group/waterfall-cli/internal/kml"
	"github.com/sells-group/waterfall-cli/internal/model"
)

// Options tunes a harvest run.
type Options struct {
	Concurrency int // parallel detail fetches per batch; <=0 means 4
}

// Pipeline orchestrates harvest runs over configured source batches.
type Pipeline struct {
	fetcher   fetcher.Fetcher
	extractor *detail.Extractor
	opts      Options
}

// New creates a Pipeline that downloads documents via f.
func New(f fetcher.Fetcher, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Pipeline{
		fetcher:   f,
		extractor: detail.NewExtractor(f),
		opts:      opts,
	}
}

// Run processes every configured batch in order. Batch-level failures are
// recorded on the batch result and never abort the run.
func (p *Pipeline) Run(ctx context.Context, batches []model.SourceBatch) *model.RunResult {
	res := &model.RunResult{}
	for _, b := range batches {
		br := p.runBatch(ctx, b)
		res.Batches = append(res.Batches, br)
		res.Records = append(res.Records, br.Records...)
		res.Unprocessable += br.Unprocessable
		if br.Err != nil {
			res.FailedBatches++
		}
	}
	return res
}

// runBatch fetches and parses one KML index, then extracts every candidate's
// detail page. Detail extraction runs on a bounded worker pool; results keep
// the candidate order regardless of completion order.
func (p *Pipeline) runBatch(ctx context.Context, batch model.SourceBatch) model.BatchResult {
	log := zap.L().With(
		zap.String("prefix", batch.Prefix),
		zap.String("index_url", batch.IndexURL),
	)

	br := model.BatchResult{Batch: batch}

	data, err := p.fetcher.Fetch(ctx, batch.IndexURL)
	if err != nil {
		log.Error("harvest: index fetch failed, skipping batch", zap.Error(err))
		br.Err = eris.Wrapf(err, "fetch index %s", batch.IndexURL)
		return br
	}

	cands, err := kml.Parse(data, batch.IndexURL)
	if err != nil {
		log.Error("harvest: index parse failed, skipping batch", zap.Error(err))
		br.Err = eris.Wrapf(err, "parse index %s", batch.IndexURL)
		return br
	}
	br.Candidates = len(cands)

	if len(cands) == 0 {
		log.Info("harvest: no placemarks in index")
		return br
	}
	log.Info("harvest: index parsed", zap.Int("candidates", len(cands)))

	results := make([]*model.CanonicalRecord, len(cands))
	var unprocessable atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, cand := range cands {
		g.Go(func() error {
			rec, err := p.extractor.Extract(gctx, batch.Prefix, cand)
			if err != nil {
				var idErr *detail.IDDerivationError
				if errors.As(err, &idErr) {
					log.Error("harvest: record has no derivable id",
						zap.String("name", cand.Name),
						zap.String("url", cand.DetailURL),
					)
					unprocessable.Add(1)
					return nil // one bad record never stops the batch
				}
				return err
			}
			results[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Extract only hard-fails on id derivation, handled above; anything
		// surfacing here is context cancellation.
		br.Err = eris.Wrapf(err, "extract details for %s", batch.Prefix)
		return br
	}

	for _, r := range results {
		if r != nil {
			br.Records = append(br.Records, *r)
		}
	}
	br.Unprocessable = int(unprocessable.Load())

	log.Info("harvest: batch complete",
		zap.Int("records", len(br.Records)),
		zap.Int("unprocessable", br.Unprocessable),
	)
	return br
}
