package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/avrosplit/container"
	"github.com/danthegoodman1/avrosplit/gologger"
	"github.com/danthegoodman1/avrosplit/partitioner"
	"github.com/danthegoodman1/avrosplit/restriction"
	"github.com/danthegoodman1/avrosplit/sync_channel"
	"github.com/danthegoodman1/avrosplit/table"
	"github.com/rs/zerolog"
)

type (
	// Emitter receives every flattened row with its shard key and processing timestamp.
	Emitter interface {
		Emit(ctx context.Context, key partitioner.ShardKey, row table.Row, ts time.Time) error
	}

	EmitterFunc func(ctx context.Context, key partitioner.ShardKey, row table.Row, ts time.Time) error

	// OpenFunc opens the byte source of a file by its key.
	OpenFunc func(ctx context.Context, file string) (sync_channel.ByteSource, error)

	Processor struct {
		KeyRange int
		Assigner *partitioner.Assigner
		Clock    func() time.Time
		// Lookback is how far before a range boundary the marker search starts. Zero means the container's
		// marker size.
		Lookback int64
	}

	// Stats describes one invocation. Callers merge them, nothing here is shared.
	Stats struct {
		File     string
		Range    restriction.ByteRange
		Window   restriction.ByteRange
		State    restriction.State
		Records  int64
		Duration time.Duration
	}
)

var ErrInvalidLookback = errors.New("lookback must not be negative")

func (f EmitterFunc) Emit(ctx context.Context, key partitioner.ShardKey, row table.Row, ts time.Time) error {
	return f(ctx, key, row, ts)
}

func New(keyRange int) *Processor {
	return &Processor{
		KeyRange: keyRange,
		Assigner: partitioner.NewAssigner(),
		Clock:    time.Now,
	}
}

// Process reads every record whose block starts inside the tracker's range and emits it as a row. It takes
// ownership of src and closes it on every path. A denied claim is not an error: it returns with
// State == restriction.Rejected and nothing emitted.
func (p *Processor) Process(ctx context.Context, file string, src sync_channel.ByteSource, tracker *restriction.Tracker, out Emitter) (stats Stats, err error) {
	rng := tracker.CurrentRange()
	stats = Stats{File: file, Range: rng, State: restriction.Unclaimed}
	s := time.Now()
	defer func() {
		stats.Duration = time.Since(s)
	}()

	ch := sync_channel.New(src)
	defer ch.Close()

	if p.KeyRange < 1 {
		return stats, fmt.Errorf("%w: %d", partitioner.ErrInvalidKeyRange, p.KeyRange)
	}
	if p.Lookback < 0 {
		return stats, ErrInvalidLookback
	}

	ctx = gologger.ForSplit(ctx, file, rng.From, rng.To)
	logger := zerolog.Ctx(ctx)

	rd, err := container.Open(ch)
	if err != nil {
		return stats, err
	}
	defer rd.Close()

	lookback := p.Lookback
	if lookback == 0 {
		lookback = int64(rd.MarkerSize())
	}
	windowEnd, err := rd.Align(max(rng.To-lookback, 0))
	if err != nil {
		return stats, err
	}
	// the last range owns everything up to the end, however far the lookback reaches
	if rng.To >= rd.Size() {
		windowEnd = rd.Size()
	}
	windowStart, err := rd.Align(max(rng.From-lookback, 0))
	if err != nil {
		return stats, err
	}
	stats.Window = restriction.ByteRange{From: windowStart, To: windowEnd}

	ok, err := tracker.TryClaim(ctx, rng.To-1)
	if err != nil {
		return stats, err
	}
	if !ok {
		stats.State, _ = restriction.Transition(stats.State, restriction.ClaimDenied)
		logger.Debug().Msg("claim rejected, skipping range")
		return stats, nil
	}
	if stats.State, err = restriction.Transition(stats.State, restriction.ClaimGranted); err != nil {
		return stats, err
	}

	if err = rd.SeekTo(windowStart); err != nil {
		return stats, err
	}
	rd.Bound(windowEnd)
	if stats.State, err = restriction.Transition(stats.State, restriction.ScanStarted); err != nil {
		return stats, err
	}

	schema := rd.Schema()
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	assigner := p.Assigner
	if assigner == nil {
		assigner = partitioner.NewAssigner()
	}

	end := windowEnd - int64(rd.MarkerSize())
	for !rd.PastMarkerAt(end) {
		if err = ctx.Err(); err != nil {
			return stats, err
		}
		more, err := rd.HasNext()
		if err != nil {
			return stats, err
		}
		if !more {
			break
		}
		rec, err := rd.Next()
		if err != nil {
			return stats, err
		}
		row := table.Flatten(rec, schema)
		key, err := assigner.Assign(file, p.KeyRange)
		if err != nil {
			return stats, fmt.Errorf("error in Assign: %w", err)
		}
		if err := out.Emit(ctx, key, row, clock()); err != nil {
			return stats, fmt.Errorf("error in Emit: %w", err)
		}
		stats.Records++
	}

	if err = tracker.Done(ctx); err != nil {
		return stats, err
	}
	if stats.State, err = restriction.Transition(stats.State, restriction.ScanFinished); err != nil {
		return stats, err
	}
	logger.Debug().Int64("windowStart", windowStart).Int64("windowEnd", windowEnd).Int64("records", stats.Records).Msg("processed range")
	return stats, nil
}

// ProcessKey processes a "file~from~to" work key.
func (p *Processor) ProcessKey(ctx context.Context, key string, open OpenFunc, claimer restriction.Claimer, out Emitter) (Stats, error) {
	file, rng, err := restriction.ParseWorkKey(key)
	if err != nil {
		return Stats{}, err
	}
	src, err := open(ctx, file)
	if err != nil {
		return Stats{File: file, Range: rng}, fmt.Errorf("error opening %s: %w", file, err)
	}
	return p.Process(ctx, file, src, restriction.NewTracker(rng, claimer), out)
}
