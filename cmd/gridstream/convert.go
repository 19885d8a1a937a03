package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/gridstream/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/gridstream/internal/adapter/kafka"
	"github.com/couchcryptid/gridstream/internal/adapter/netcdf"
	"github.com/couchcryptid/gridstream/internal/adapter/snapshot"
	"github.com/couchcryptid/gridstream/internal/config"
	"github.com/couchcryptid/gridstream/internal/observability"
	"github.com/couchcryptid/gridstream/internal/pipeline"
)

type convertFlags struct {
	deaccumulate []string
	dlist        string
	variables    []string
	chunkHours   int
	prefetch     bool
	noStack      bool
	keepNegative bool
	quiet        bool
}

func newConvertCommand() *cobra.Command {
	var f convertFlags
	cmd := &cobra.Command{
		Use:   "convert <pattern> <output>",
		Short: "Convert snapshot files matching pattern into one NetCDF file",
		Long: `Convert snapshot files matching pattern into one NetCDF file.

-d and -v take one value each. Name several variables with a comma list
(-d A,B) or by repeating the flag (-d A -d B).`,
		Args: convertArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := convertConfig(cmd, f)
			if err != nil {
				return err
			}
			return runConvert(cmd, cfg, f, args[0], args[1])
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.deaccumulate, "deaccumulate", "d", nil, "cumulative variable to de-accumulate (-d A,B or -d A -d B)")
	fl.StringVar(&f.dlist, "dlist", "", "file listing variables to de-accumulate, one per line")
	fl.StringArrayVarP(&f.variables, "variables", "v", nil, "variable to convert (-v A,B or -v A -v B; default all)")
	fl.IntVar(&f.chunkHours, "chunk-hours", 1, "output timesteps per chunk (overrides CHUNK_HOURS)")
	fl.BoolVar(&f.prefetch, "prefetch", false, "build the next chunk while the current one is written (overrides PREFETCH)")
	fl.BoolVar(&f.noStack, "no-stack-levels", false, "keep per-level fields as separate 2-D variables")
	fl.BoolVar(&f.keepNegative, "keep-negative", false, "keep negative de-accumulated intervals instead of clamping to zero")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "log warnings and errors only")
	return cmd
}

// convertArgs requires exactly the pattern and output. Extra words usually
// come from "-d A B", which binds only A to the flag.
func convertArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 2 {
		return nil
	}
	if len(args) > 2 && (cmd.Flags().Changed("deaccumulate") || cmd.Flags().Changed("variables")) {
		return fmt.Errorf("accepts <pattern> <output>, got %d args %q: name several variables as -d A,B or -d A -d B", len(args), args)
	}
	return fmt.Errorf("accepts <pattern> <output>, got %d args %q", len(args), args)
}

// convertConfig loads the environment and applies explicitly set flags on top.
func convertConfig(cmd *cobra.Command, f convertFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	fl := cmd.Flags()
	if fl.Changed("chunk-hours") {
		cfg.ChunkHours = f.chunkHours
	}
	if fl.Changed("prefetch") {
		cfg.Prefetch = f.prefetch
	}
	if fl.Changed("no-stack-levels") {
		cfg.StackLevels = !f.noStack
	}
	if fl.Changed("keep-negative") {
		cfg.KeepNegative = f.keepNegative
	}
	if f.quiet {
		cfg.LogLevel = "warn"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runConvert(cmd *cobra.Command, cfg *config.Config, f convertFlags, pattern, output string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg)

	deaccumulate := config.ParseVariableList(f.deaccumulate)
	if f.dlist != "" {
		names, err := config.ReadVariableFile(f.dlist)
		if err != nil {
			return err
		}
		deaccumulate = config.ParseVariableList(deaccumulate, names)
	}

	paths, err := pipeline.Discover(pattern)
	if err != nil {
		return err
	}
	seq, err := pipeline.NewSequencer(cfg.ChunkHours)
	if err != nil {
		return err
	}
	it, err := seq.Sequence(paths)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	loader := pipeline.NewLoader(snapshot.NewDecoder(logger), pipeline.LoaderOptions{
		Variables:    config.ParseVariableList(f.variables),
		Deaccumulate: deaccumulate,
		StackLevels:  cfg.StackLevels,
	}, logger, metrics)
	store := netcdf.NewStore(output, netcdf.Options{}, logger)

	var observers []pipeline.ChunkObserver
	if cfg.ProgressEnabled() {
		notifier := kafkaadapter.NewNotifier(cfg, logger)
		defer func() {
			if err := notifier.Close(); err != nil {
				logger.Error("kafka notifier close error", "error", err)
			}
		}()
		observers = append(observers, notifier)
		logger.Info("progress notifications enabled", "topic", cfg.KafkaProgressTopic)
	}

	p := pipeline.New(loader, store, logger, metrics, pipeline.Options{
		Output:       output,
		Source:       pattern,
		KeepNegative: cfg.KeepNegative,
		Prefetch:     cfg.Prefetch,
		Observers:    observers,
	})

	if cfg.MetricsAddr != "" {
		srv := httpadapter.NewServer(cfg.MetricsAddr, p, progressReporter(p, output), logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer shutdownServer(srv, cfg, logger)
	}

	sum, err := p.Run(ctx, it)
	if err != nil {
		if abortErr := store.Abort(); abortErr != nil {
			logger.Error("output abort error", "error", abortErr)
		}
		return err
	}
	if err := store.Close(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d timesteps in %d chunks from %d files to %s (%s)\n",
		sum.Records, sum.Chunks, sum.Files, output, sum.Duration.Round(time.Millisecond))
	return nil
}

func progressReporter(p *pipeline.Pipeline, output string) httpadapter.ProgressFunc {
	return func() any {
		state, records := p.Progress()
		return map[string]any{
			"output":  output,
			"state":   state.String(),
			"records": records,
		}
	}
}

func shutdownServer(srv *httpadapter.Server, cfg *config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}
