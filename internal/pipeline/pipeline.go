package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/gridstream/internal/domain"
	"github.com/couchcryptid/gridstream/internal/observability"
)

// ChunkStore persists chunks. Append must either durably write every timestep
// of the chunk or fail; it never rewrites earlier timesteps.
type ChunkStore interface {
	Append(ctx context.Context, chunk domain.Chunk) error
	Records() int
}

// ChunkObserver is notified after each successful append.
type ChunkObserver interface {
	OnChunkAppended(ctx context.Context, ev domain.AppendEvent) error
}

// State is the stream controller's position in its run loop.
type State int32

const (
	StateIdle State = iota
	StateSequencing
	StateLoadingWindow
	StateTransforming
	StateAppending
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSequencing:
		return "sequencing"
	case StateLoadingWindow:
		return "loading_window"
	case StateTransforming:
		return "transforming"
	case StateAppending:
		return "appending"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Pipeline.
type Options struct {
	// Output names the output artifact in append events.
	Output string

	// Source is recorded as the provenance of every chunk.
	Source string

	// KeepNegative retains negative de-accumulated intervals instead of
	// clamping them to zero.
	KeepNegative bool

	// Prefetch builds window n+1 while window n is being appended.
	Prefetch bool

	Observers []ChunkObserver
}

// Summary reports what a run produced.
type Summary struct {
	Files     int
	Windows   int
	Chunks    int
	Timesteps int
	Records   int
	Clamped   map[string]int
	Duration  time.Duration
}

// Pipeline streams windows of snapshot files into a ChunkStore, one chunk at a
// time.
type Pipeline struct {
	loader  *Loader
	store   ChunkStore
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options

	ready   atomic.Bool
	state   atomic.Int32
	records atomic.Int64
}

// New creates a Pipeline with the given stages and observability.
func New(loader *Loader, store ChunkStore, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		loader:  loader,
		store:   store,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
}

// CheckReadiness returns nil once the first chunk has been appended, or an
// error describing why the run is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not appended any chunks yet")
	}
	return nil
}

// State returns the current controller state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Progress reports the controller state and the number of timesteps the
// store held after the most recent append. Safe for concurrent use.
func (p *Pipeline) Progress() (State, int) {
	return p.State(), int(p.records.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.metrics.PipelineState.Set(float64(s))
}

// builtChunk is a chunk ready to append along with the window it came from.
type builtChunk struct {
	window domain.Window
	chunk  domain.Chunk
}

// producer owns everything that is touched while building chunks: the
// de-accumulation state and the counters derived from decoding.
type producer struct {
	p     *Pipeline
	state *domain.DeaccumState
	deacc *domain.Deaccumulator
	asm   *Assembler

	nextIndex int
	files     int
	clamped   map[string]int
}

// Run converts every window of it. It stops at the first error, leaving every
// previously appended timestep intact.
func (p *Pipeline) Run(ctx context.Context, it *WindowIterator) (Summary, error) {
	start := time.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	p.setState(StateSequencing)
	it.Reset()
	p.logger.Info("conversion started",
		"files", len(it.Files()),
		"windows", it.Windows(),
		"timesteps", it.Timesteps(),
		"chunk_hours", it.ChunkHours(),
		"prefetch", p.opts.Prefetch,
	)

	p.records.Store(int64(p.store.Records()))
	prod := &producer{
		p:         p,
		state:     domain.NewDeaccumState(),
		nextIndex: p.store.Records(),
		clamped:   make(map[string]int),
	}
	sum := Summary{Windows: it.Windows()}

	var err error
	if p.opts.Prefetch {
		err = p.runPrefetch(ctx, it, prod, &sum)
	} else {
		err = p.runSequential(ctx, it, prod, &sum)
	}

	sum.Files = prod.files
	sum.Clamped = maps.Clone(prod.clamped)
	sum.Records = p.store.Records()
	sum.Duration = time.Since(start)

	if err != nil {
		p.setState(StateFailed)
		p.logger.Error("conversion failed",
			"error", err,
			"kind", domain.ErrorKind(err),
			"chunks_appended", sum.Chunks,
			"records", sum.Records,
		)
		return sum, err
	}

	p.setState(StateDone)
	p.logClamped(sum.Clamped)
	p.logger.Info("conversion finished",
		"files", sum.Files,
		"chunks", sum.Chunks,
		"timesteps", sum.Timesteps,
		"records", sum.Records,
		"duration", sum.Duration,
	)
	return sum, nil
}

// runSequential builds and appends one window at a time.
func (p *Pipeline) runSequential(ctx context.Context, it *WindowIterator, prod *producer, sum *Summary) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.setState(StateSequencing)
		w, ok := it.Next()
		if !ok {
			return nil
		}
		built, err := prod.build(ctx, w)
		if err != nil {
			return err
		}
		err = p.appendChunk(ctx, built, sum)
		// Release the chunk before the next window is loaded.
		built = builtChunk{}
		if err != nil {
			return err
		}
	}
}

// runPrefetch overlaps building window n+1 with appending window n. The
// handoff channel is unbuffered: at most one built chunk waits while another
// is appended, and only the producer goroutine calls the decoder.
func (p *Pipeline) runPrefetch(ctx context.Context, it *WindowIterator, prod *producer, sum *Summary) error {
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan builtChunk)

	g.Go(func() error {
		for {
			p.setState(StateSequencing)
			w, ok := it.Next()
			if !ok {
				close(chunks)
				return nil
			}
			built, err := prod.build(gctx, w)
			if err != nil {
				return err
			}
			select {
			case chunks <- built:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case built, ok := <-chunks:
				if !ok {
					return nil
				}
				if err := p.appendChunk(gctx, built, sum); err != nil {
					return err
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}

// build decodes, de-accumulates and assembles one window. The baseline of the
// first window only seeds the de-accumulation state; later windows start from
// the state left by the previous window, so their baseline is not decoded
// again.
func (b *producer) build(ctx context.Context, w domain.Window) (builtChunk, error) {
	p := b.p
	p.setState(StateLoadingWindow)

	if !b.state.Seeded() {
		base, err := p.loader.Load(ctx, w.Baseline())
		if err != nil {
			return builtChunk{}, err
		}
		b.files++
		layout := p.loader.Layout()
		b.deacc = domain.NewDeaccumulator(layout.Cumulative, p.opts.KeepNegative)
		b.asm = NewAssembler(layout, p.opts.Source)
		if err := b.deacc.Seed(b.state, base); err != nil {
			return builtChunk{}, err
		}
	} else if last := b.state.LastForecastHour(); last != w.Baseline().ForecastHour {
		return builtChunk{}, fmt.Errorf("%w: window %d starts at hour %d, state is at hour %d",
			domain.ErrFormat, w.Index, w.Baseline().ForecastHour, last)
	}

	builder := b.asm.NewBuilder(b.nextIndex, w.Timesteps())
	for _, f := range w.Files[1:] {
		if err := ctx.Err(); err != nil {
			return builtChunk{}, err
		}
		p.setState(StateLoadingWindow)
		snap, err := p.loader.Load(ctx, f)
		if err != nil {
			return builtChunk{}, err
		}
		b.files++

		p.setState(StateTransforming)
		out, res, err := b.deacc.Apply(b.state, snap)
		if err != nil {
			return builtChunk{}, err
		}
		for name, n := range res.Clamped {
			b.clamped[name] += n
			p.metrics.NegativeClamped.WithLabelValues(name).Add(float64(n))
		}
		if err := builder.Add(out); err != nil {
			return builtChunk{}, err
		}
	}

	chunk, err := builder.Build()
	if err != nil {
		return builtChunk{}, err
	}
	b.nextIndex += chunk.Timesteps()
	return builtChunk{window: w, chunk: chunk}, nil
}

// appendChunk hands one chunk to the store and notifies observers. The caller
// drops its reference to the chunk when this returns.
func (p *Pipeline) appendChunk(ctx context.Context, built builtChunk, sum *Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.setState(StateAppending)

	start := time.Now()
	if err := p.store.Append(ctx, built.chunk); err != nil {
		return fmt.Errorf("append window %d: %w", built.window.Index, err)
	}
	p.metrics.AppendDuration.Observe(time.Since(start).Seconds())

	steps := built.chunk.Timesteps()
	p.metrics.ChunksAppended.Inc()
	p.metrics.TimestepsAppended.Add(float64(steps))
	p.metrics.ChunkTimesteps.Observe(float64(steps))
	sum.Chunks++
	sum.Timesteps += steps
	p.ready.Store(true)

	records := p.store.Records()
	p.records.Store(int64(records))
	p.logger.Info("chunk appended",
		"window", built.window.Index,
		"first_index", built.chunk.FirstIndex,
		"timesteps", steps,
		"forecast_hours", built.chunk.ForecastHours,
		"records", records,
	)

	p.notify(ctx, domain.AppendEvent{
		Output:        p.opts.Output,
		Window:        built.window.Index,
		FirstIndex:    built.chunk.FirstIndex,
		Timesteps:     steps,
		TotalRecords:  records,
		ValidTimes:    built.chunk.ValidTimes,
		ForecastHours: built.chunk.ForecastHours,
		AppendedAt:    domain.Now(),
	})
	return nil
}

func (p *Pipeline) notify(ctx context.Context, ev domain.AppendEvent) {
	for _, obs := range p.opts.Observers {
		if err := obs.OnChunkAppended(ctx, ev); err != nil {
			p.metrics.ObserverErrors.Inc()
			p.logger.Warn("chunk observer failed", "error", err, "window", ev.Window)
		}
	}
}

func (p *Pipeline) logClamped(clamped map[string]int) {
	for name, n := range clamped {
		if p.opts.KeepNegative {
			p.logger.Warn("negative de-accumulated intervals kept", "variable", name, "cells", n)
		} else {
			p.logger.Warn("negative de-accumulated intervals clamped to zero", "variable", name, "cells", n)
		}
	}
}
