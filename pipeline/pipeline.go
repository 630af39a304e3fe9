package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/danthegoodman1/avrosplit/datastore"
	"github.com/danthegoodman1/avrosplit/gologger"
	"github.com/danthegoodman1/avrosplit/metastore"
	"github.com/danthegoodman1/avrosplit/processor"
	"github.com/danthegoodman1/avrosplit/restriction"
	"github.com/danthegoodman1/avrosplit/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var logger = gologger.NewLogger()

type (
	// Runner splits files into byte ranges and processes the ranges concurrently. Ranges are claimed in the
	// claim store under the runner's owner token, so several runners can share the same files.
	Runner struct {
		store  datastore.DataStore
		claims metastore.ClaimStore
		out    processor.Emitter
		cfg    Config
		owner  string

		processor  *processor.Processor
		newBackOff func() backoff.BackOff
	}

	FileResult struct {
		File     string
		Size     int64
		Splits   int
		Records  int64
		Rejected int
		Duration time.Duration
		Stats    []processor.Stats `json:",omitempty"`
		// Error is Err rendered for JSON
		Error string `json:",omitempty"`
		Err   error  `json:"-"`
	}
)

func NewRunner(store datastore.DataStore, claims metastore.ClaimStore, out processor.Emitter, cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := processor.New(cfg.KeyRange)
	p.Lookback = cfg.Lookback
	return &Runner{
		store:      store,
		claims:     claims,
		out:        out,
		cfg:        cfg,
		owner:      utils.GenRandomID("runner_"),
		processor:  p,
		newBackOff: defaultBackOff,
	}, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond * 100
	b.MaxInterval = time.Second * 5
	b.MaxElapsedTime = 0
	return b
}

func (r *Runner) Owner() string {
	return r.owner
}

func (r *Runner) Config() Config {
	return r.cfg
}

// Ingest processes every file in keys, one file at a time with up to Workers splits in flight. A failed file
// is reported in its FileResult and does not stop the others. The returned error is only set when ctx ends.
func (r *Runner) Ingest(ctx context.Context, keys []string) ([]FileResult, error) {
	results := make([]FileResult, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := r.ingestFile(ctx, key)
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
		results = append(results, res)
	}
	return results, ctx.Err()
}

func (r *Runner) ingestFile(ctx context.Context, file string) (res FileResult) {
	logger := zerolog.Ctx(ctx).With().Str("file", file).Logger()
	ctx = logger.WithContext(ctx)
	res.File = file
	s := time.Now()
	defer func() {
		res.Duration = time.Since(s)
	}()

	f, err := r.store.OpenFile(ctx, file)
	if err != nil {
		res.Err = fmt.Errorf("error in OpenFile: %w", err)
		return
	}
	res.Size = f.SizeBytes()
	if err := f.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing size lookup")
	}

	initial := restriction.InitialExtent(res.Size)
	logger.Debug().Str("restriction", initial.String()).Msg("initial restriction")
	if initial.Len() == 0 {
		return
	}
	splits, err := restriction.SplitExtent(initial, r.cfg.ChunkSize)
	if err != nil {
		res.Err = err
		return
	}
	res.Splits = len(splits)
	logger.Debug().Int("splits", len(splits)).Int64("chunkSize", r.cfg.ChunkSize).Msg("split restriction")

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, rng := range splits {
		rng := rng
		g.Go(func() error {
			stats, err := r.runSplit(gCtx, file, rng)
			mu.Lock()
			res.Stats = append(res.Stats, stats)
			mu.Unlock()
			return err
		})
	}
	res.Err = g.Wait()

	for _, st := range res.Stats {
		res.Records += st.Records
		if st.State == restriction.Rejected {
			res.Rejected++
		}
	}
	if res.Err != nil {
		logger.Error().Err(res.Err).Int64("records", res.Records).Msg("file failed")
		return
	}
	logger.Debug().Int64("records", res.Records).Int("rejected", res.Rejected).Msg("file done")
	return
}

// runSplit processes one range, retrying failures that are not permanent. Every attempt opens its own file
// handle and tracker. A claim that an attempt took is released before the next one.
func (r *Runner) runSplit(ctx context.Context, file string, rng restriction.ByteRange) (processor.Stats, error) {
	var stats processor.Stats
	attempt := 0
	var last error
	op := func() error {
		attempt++
		err := r.tryOnce(ctx, file, rng, &stats)
		if err == nil {
			return nil
		}
		last = err
		if ctx.Err() != nil || utils.IsPermanent(err) || errors.Is(err, datastore.ErrNotFound) || attempt >= r.cfg.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("range", rng.String()).Int("attempt", attempt).Dur("wait", wait).Msg("retrying split")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(r.newBackOff(), ctx), notify)
	// report the attempt's own error rather than the retry wrapper around it
	if err != nil && last != nil && errors.Is(err, last) {
		err = last
	}
	if err != nil {
		return stats, fmt.Errorf("error processing %s after %d attempts: %w", rng.WorkKey(file), attempt, err)
	}
	return stats, nil
}

func (r *Runner) tryOnce(ctx context.Context, file string, rng restriction.ByteRange, stats *processor.Stats) error {
	*stats = processor.Stats{File: file, Range: rng}
	src, err := r.store.OpenFile(ctx, file)
	if err != nil {
		return fmt.Errorf("error in OpenFile: %w", err)
	}
	tracker := restriction.NewTracker(rng, metastore.NewClaimer(r.claims, file, r.owner))
	*stats, err = r.processor.Process(ctx, file, src, tracker, r.out)
	if err != nil {
		if relErr := tracker.Release(context.WithoutCancel(ctx)); relErr != nil {
			zerolog.Ctx(ctx).Error().Err(relErr).Str("range", rng.String()).Msg("error releasing claim")
		}
		return err
	}
	return nil
}
