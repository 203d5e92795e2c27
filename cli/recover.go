package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"chronovista/internal/logger"
	"chronovista/recovery"
	"chronovista/storage"
	"chronovista/youtube"
)

// errFatalFailures makes the process exit non-zero after results were
// printed.
var errFatalFailures = errors.New("some recoveries failed with unexpected errors or CDX timeouts")

func newRecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover video metadata from the Wayback Machine",
	}
	cmd.AddCommand(newRecoverVideoCommand(), newRecoverAllCommand())
	return cmd
}

func newRecoverVideoCommand() *cobra.Command {
	var dryRun, asJSON bool

	cmd := &cobra.Command{
		Use:   "video <video-id|watch-url>...",
		Short: "Recover specific videos",
		Example: `  chronovista recover video dQw4w9WgXcQ
  chronovista recover video --dry-run dQw4w9WgXcQ https://www.youtube.com/watch?v=9bZkp7q19f0`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseVideoIDs(args)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			runner := recovery.NewBatchRunner(a.recoverer, a.log)
			summary := runner.Run(cmd.Context(), a.store, ids, recovery.BatchOptions{DryRun: dryRun, Concurrency: 1})
			a.logArchiveState()

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, summary.Results); err != nil {
					return err
				}
			} else {
				renderResults(out, summary.Results)
				fmt.Fprintln(out, summaryLine(summary))
			}
			return exitStatus(summary)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only check whether captures exist; write nothing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

type recoverAllOptions struct {
	limit       int
	concurrency int
	dryRun      bool
	asJSON      bool
	report      string
	metricsAddr string
}

func newRecoverAllCommand() *cobra.Command {
	var opts recoverAllOptions

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Recover every video that is not AVAILABLE",
		Example: `  chronovista recover all --limit 100 --concurrency 4
  chronovista recover all --dry-run --report dryrun.json
  chronovista recover all --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			flags := cmd.Flags()
			if !flags.Changed("limit") {
				opts.limit = a.cfg.Batch.Limit
			}
			if !flags.Changed("concurrency") {
				opts.concurrency = a.cfg.Batch.Concurrency
			}
			if !flags.Changed("metrics-addr") {
				opts.metricsAddr = a.cfg.Metrics.Addr
			}
			return runRecoverAll(cmd, a, opts)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.limit, "limit", 0, "maximum number of videos to process (0 = all)")
	flags.IntVar(&opts.concurrency, "concurrency", 2, "videos recovered in parallel")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "only check whether captures exist; write nothing")
	flags.BoolVar(&opts.asJSON, "json", false, "print the batch summary as JSON")
	flags.StringVar(&opts.report, "report", "", "write the batch summary as JSON to this file")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func runRecoverAll(cmd *cobra.Command, a *app, opts recoverAllOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if opts.concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1")
	}

	ids, err := a.store.ListUnavailableVideoIDs(ctx, opts.limit)
	if err != nil {
		return fmt.Errorf("list unavailable videos: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No unavailable videos to recover.")
		return nil
	}

	if opts.metricsAddr != "" {
		stop := serveMetrics(opts.metricsAddr, a.registry, a.log)
		defer stop()
	}

	runner := recovery.NewBatchRunner(a.recoverer, a.log)
	summary := runner.Run(ctx, a.store, ids, recovery.BatchOptions{
		DryRun:      opts.dryRun,
		Concurrency: opts.concurrency,
	})
	a.logArchiveState()

	if opts.report != "" {
		if err := storage.WriteJSONAtomic(opts.report, summary); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		a.log.Info("report written", logger.String("path", opts.report))
	}

	if opts.asJSON {
		if err := writeJSON(out, summary); err != nil {
			return err
		}
	} else {
		renderResults(out, summary.Results)
		fmt.Fprintln(out, summaryLine(summary))
	}
	return exitStatus(summary)
}

// parseVideoIDs accepts bare ids and watch URLs, dropping duplicates.
func parseVideoIDs(args []string) ([]string, error) {
	seen := make(map[string]bool, len(args))
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		id := youtube.VideoIDFromURL(strings.TrimSpace(arg))
		if err := youtube.ValidateVideoID(id); err != nil {
			return nil, fmt.Errorf("%q: %w", arg, err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func exitStatus(summary *recovery.BatchSummary) error {
	if summary.HasFatalFailures() {
		return errFatalFailures
	}
	return nil
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, log logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("serving metrics", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logger.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
