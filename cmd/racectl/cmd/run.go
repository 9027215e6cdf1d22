package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/racecore/race"
	"github.com/racecore/race/health"
	"github.com/racecore/race/raceconfig"
)

// NewRunCommand builds `racectl run <config>`: load the worker
// configuration, admit and start every worker, serve the ops HTTP surface,
// and run until SIGINT or SIGTERM arrives; workers that stop on their own
// do not end the command.
func NewRunCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run a RACE system from a worker configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem(cmd.Context(), args[0], metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to bind the ops HTTP surface (/healthz, /readyz, /metrics); overrides the config file's system.metrics-addr")
	return cmd
}

func runSystem(ctx context.Context, configPath, metricsAddrFlag string) error {
	doc, err := raceconfig.LoadDocument(configPath)
	if err != nil {
		return err
	}

	baseDate := doc.System.BaseDate
	if baseDate.IsZero() {
		baseDate = time.Now()
	}
	scale := doc.System.TimeScale
	if scale <= 0 {
		scale = 1
	}

	reg := prometheus.NewRegistry()

	logger := race.NewSlogLogger(nil)
	sys := race.NewSystemWithRegisterer(logger, baseDate, scale, race.RestartPolicy{}, reg)

	for _, wc := range doc.Workers {
		w, err := newWorkerForClass(wc.Class)
		if err != nil {
			return fmt.Errorf("worker %s: %w", wc.Name, err)
		}
		if err := sys.Admit(ctx, w, wc); err != nil {
			return err
		}
	}

	agg := health.NewAggregator(nil)
	sys.RegisterHealthChecks(agg)

	metricsAddr := metricsAddrFlag
	if metricsAddr == "" {
		metricsAddr = doc.System.MetricsAddr
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if metricsAddr != "" {
		srv = &http.Server{Addr: metricsAddr, Handler: opsRouter(reg, agg)}
		go func() {
			_ = srv.ListenAndServe()
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := sys.Start(runCtx); err != nil {
		return fmt.Errorf("%w", err)
	}

	<-runCtx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sys.Stop(stopCtx)
}

// newWorkerForClass maps a worker config's Class to its concrete
// implementation. Additional classes are registered here as they're
// added to the core.
func newWorkerForClass(class string) (race.Worker, error) {
	switch class {
	case "replay":
		return &race.ReplayWorker{}, nil
	case "adapter":
		return &race.AdapterWorker{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown worker class %q", race.ErrConfigInvalidValue, class)
	}
}

// opsRouter builds the minimal operational HTTP surface: liveness,
// readiness, and Prometheus metrics. This is not the domain HTTP front-end
// (out of scope) — purely the ambient observability surface.
func opsRouter(reg *prometheus.Registry, agg *health.Aggregator) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status, _ := agg.CheckAll(req.Context())
		w.Header().Set("Content-Type", "application/json")
		if status.OverallStatus != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ready, _ := agg.IsReady(req.Context())
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
