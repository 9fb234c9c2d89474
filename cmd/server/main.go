// Command server exposes the data-access facade over HTTP: value operations
// under /v1, operational state under /stats and /alerts, and Prometheus
// metrics under /metrics. The remote store is an in-process memstore, which
// makes the binary a self-contained demo and load-test target.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/gatedstore/budget"
	"github.com/IvanBrykalov/gatedstore/cache"
	"github.com/IvanBrykalov/gatedstore/cache/redistier"
	"github.com/IvanBrykalov/gatedstore/client"
	"github.com/IvanBrykalov/gatedstore/config"
	"github.com/IvanBrykalov/gatedstore/metrics"
	"github.com/IvanBrykalov/gatedstore/metrics/prom"
	"github.com/IvanBrykalov/gatedstore/remote"
	"github.com/IvanBrykalov/gatedstore/remote/memstore"
)

func main() {
	cfgPath := "configs/default.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	agg := metrics.New(metrics.Options{
		WindowSize:    cfg.WindowSize,
		Retention:     cfg.Retention,
		AlertCooldown: cfg.AlertCooldown,
		Thresholds:    latencyThresholds(cfg.LatencyAlertMs),
		Logger:        log,
	})
	defer agg.Close()

	var secondary cache.Tier
	if cfg.RedisURL != "" {
		rc, err := redistier.Connect(cfg.RedisURL)
		if err != nil {
			return err
		}
		secondary = redistier.New(rc, "")
		log.Info("secondary cache tier enabled", "redis", cfg.RedisURL)
	}

	c := client.New(client.Options{
		Store:          memstore.New(),
		DefaultTTL:     cfg.DefaultTTL,
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay,
		BudgetCapacity: cfg.BudgetCapacity,
		BudgetRefill:   cfg.BudgetRefill,
		BatchSize:      cfg.BatchSize,
		CacheCapacity:  cfg.CacheCapacity,
		Adaptive:       cache.AdaptiveOptions{CapacityCeiling: cfg.CacheCeiling},
		Secondary:      secondary,
		CacheMetrics:   prom.NewCache(reg, "gatedstore"),
		Aggregator:     agg,
		Recorder:       prom.NewOp(reg, "gatedstore", agg),
		Logger:         log,
	})
	defer c.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router(c, reg, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}

func latencyThresholds(limitMs float64) []metrics.Threshold {
	var ths []metrics.Threshold
	for _, cat := range budget.Categories() {
		ths = append(ths, metrics.Threshold{
			Category: string(cat),
			Metric:   metrics.MetricLatency,
			Limit:    limitMs,
			Mode:     metrics.CompareWindowAvg,
		})
	}
	return ths
}

func router(c *client.Client, reg *prometheus.Registry, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1/{store}", func(r chi.Router) {
		r.Get("/", handleList(c))
		r.Get("/{key}", handleGet(c))
		r.Put("/{key}", handleSet(c, log))
		r.Delete("/{key}", handleDelete(c))
	})
	r.Get("/stats", handleJSON(func(*http.Request) (any, error) { return c.Stats(), nil }))
	r.Get("/alerts", handleJSON(func(*http.Request) (any, error) { return c.ActiveAlerts(), nil }))
	r.Get("/report", handleJSON(func(req *http.Request) (any, error) {
		rng := durationParam(req, "range", time.Hour)
		return c.Report(rng), nil
	}))
	r.Get("/metrics/{category}", handleJSON(func(req *http.Request) (any, error) {
		rng := durationParam(req, "range", time.Hour)
		return c.GetMetrics(chi.URLParam(req, "category"), rng), nil
	}))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

func handleGet(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		v, found, err := c.Get(req.Context(), chi.URLParam(req, "store"), chi.URLParam(req, "key"))
		if err != nil {
			writeError(w, err)
			return
		}
		if !found {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(v)
	}
}

func handleSet(c *client.Client, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20+1))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.Set(req.Context(), chi.URLParam(req, "store"), chi.URLParam(req, "key"), body); err != nil {
			log.Warn("set failed", "err", err)
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDelete(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := c.Delete(req.Context(), chi.URLParam(req, "store"), chi.URLParam(req, "key")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleList(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := 0
		if raw := req.URL.Query().Get("limit"); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}
		it := c.List(req.Context(), chi.URLParam(req, "store"), req.URL.Query().Get("prefix"))
		keys := []string{}
		for it.Next() {
			keys = append(keys, it.Key())
			if limit > 0 && len(keys) >= limit {
				break
			}
		}
		if err := it.Err(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"keys": keys})
	}
}

func handleJSON(fn func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		v, err := fn(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, v)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch remote.KindOf(err) {
	case remote.KindValidation:
		status = http.StatusBadRequest
	case remote.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case remote.KindDeadlineExceeded:
		status = http.StatusGatewayTimeout
	case remote.KindCanceled:
		status = 499 // client closed request
	}
	http.Error(w, err.Error(), status)
}

func durationParam(req *http.Request, name string, fallback time.Duration) time.Duration {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
