package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/health"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/instrument"
	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/scheduler"
)

var cfgPath string

// #region main
func main() {
	root := &cobra.Command{
		Use:   "controller",
		Short: "Adaptive partition selection controller",
		Long: `Watches classified channel traffic, estimates per-channel failure
probability and moves each channel between nominal, degraded and critical
configurations against its goals.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("PARTITION_CONFIG", ""), "controller config file (YAML)")

	root.AddCommand(runCmd(), onceCmd(), ingestCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region run
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Evaluate on the configured schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			pipe := instrument.NewPipeline(a.cfg.PipelineConfig(), a.log, a.store)
			pipeDone := make(chan struct{})
			go func() {
				pipe.Run(ctx)
				close(pipeDone)
			}()
			defer func() {
				pipe.Stop()
				<-pipeDone
			}()

			if addr := a.cfg.Metrics.Addr; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))
				mux.Handle("/observations", observationHandler(pipe, a))
				srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.WithError(err).Error("metrics server stopped")
					}
				}()
				defer srv.Close()
				a.log.WithField("addr", addr).Info("serving metrics")
			}

			if addr := a.cfg.Health.Serve; addr != "" {
				lis, err := net.Listen("tcp", addr)
				if err != nil {
					return fmt.Errorf("listen %s: %w", addr, err)
				}
				srv, _ := health.Serve(lis, a.log)
				defer srv.GracefulStop()
				a.log.WithField("addr", addr).Info("serving grpc health")
			}

			job := func(ctx context.Context) error {
				a.metrics.SetDropped(pipe.Dropped())
				if _, err := a.ctrl.EvaluateCycle(ctx); err != nil {
					return err
				}
				if a.cfg.Retention > 0 {
					res, err := a.store.Prune(ctx, time.Now().UTC().Add(-a.cfg.Retention))
					if err != nil {
						a.log.WithError(err).Warn("prune failed")
					} else if res.Observations > 0 {
						a.log.WithField("observations", res.Observations).Debug("pruned")
					}
				}
				return nil
			}
			sched, err := scheduler.New(a.cfg.Schedule, job, a.log)
			if err != nil {
				return err
			}
			sched.Start(ctx)
			a.log.WithField("schedule", a.cfg.Schedule).Info("scheduler started")

			<-ctx.Done()
			a.log.Info("shutting down")
			sched.Stop()
			return nil
		},
	}
}

// #endregion run

// #region once
func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single evaluation cycle and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.ctrl.EvaluateCycle(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(newCycleReport(res))
		},
	}
}

// #endregion once

// #region ingest

// ingestCmd loads newline-delimited JSON observations into the store through
// the instrumentation pipeline.
func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file]",
		Short: "Load JSON-lines observations from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			p := instrument.NewPipeline(a.cfg.PipelineConfig(), a.log, a.store)
			done := make(chan struct{})
			go func() {
				p.Run(ctx)
				close(done)
			}()

			sc := bufio.NewScanner(in)
			sc.Buffer(make([]byte, 64*1024), 1024*1024)
			line := 0
			for sc.Scan() {
				line++
				if len(sc.Bytes()) == 0 {
					continue
				}
				var obs channel.Observation
				if err := json.Unmarshal(sc.Bytes(), &obs); err != nil {
					p.Stop()
					<-done
					return fmt.Errorf("line %d: %w", line, err)
				}
				for !p.Record(obs) {
					// Buffer full; wait for the writer.
					time.Sleep(10 * time.Millisecond)
				}
			}
			p.Stop()
			<-done
			if err := sc.Err(); err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{"written": p.Written(), "retried": p.Dropped()}).Info("ingest complete")
			return nil
		},
	}
}

// #endregion ingest

// #region http-ingest

// observationHandler accepts JSON-lines observations over HTTP. Records that
// do not fit the pipeline buffer are dropped and counted, never blocking
// the caller.
func observationHandler(p *instrument.Pipeline, a *app) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()
		dec := json.NewDecoder(r.Body)
		accepted, dropped := 0, 0
		for {
			var obs channel.Observation
			if err := dec.Decode(&obs); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				http.Error(w, fmt.Sprintf("decode observation %d: %v", accepted+dropped, err), http.StatusBadRequest)
				return
			}
			if obs.Timestamp.IsZero() {
				obs.Timestamp = time.Now().UTC()
			}
			if p.Record(obs) {
				accepted++
			} else {
				dropped++
			}
		}
		if dropped > 0 {
			a.log.WithField("dropped", dropped).Warn("observation buffer full")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"accepted": accepted, "dropped": dropped})
	})
}

// #endregion http-ingest

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
