package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "physique_bot"

var (
	metricPendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pending_interactions",
		Help:      "Prompts currently waiting for a button click",
	})

	metricPendingOrphaned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pending_orphaned_total",
		Help:      "Unanswered prompts replaced by a newer one from the same user",
	})

	metricPendingEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pending_evicted_total",
		Help:      "Prompts dropped after their TTL elapsed",
	})

	metricPrompts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "prompts_total",
		Help:      "Prompts sent, by kind",
	}, []string{"kind"})

	metricResumes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "calculations_resumed_total",
		Help:      "Calculations run, by the path that released them",
	}, []string{"path"})

	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "commands_total",
		Help:      "Slash commands handled, by name",
	}, []string{"command"})

	metricCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "command_duration_seconds",
		Help:      "Time spent handling a slash command",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})

	metricUserRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "user_rate_limited_total",
		Help:      "Commands refused by the per-user limiter",
	})

	metricDiscordRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "discord_rate_limited_total",
		Help:      "Rate limit warnings reported by the REST client",
	})

	metricProfiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "profiles",
		Help:      "Stored physique profiles",
	})
)

func init() {
	OnRateLimitExceeded(metricDiscordRateLimited.Inc)
}

// observeCommand records one handled command. Use as: defer observeCommand(name, time.Now())
func observeCommand(name string, start time.Time) {
	metricCommands.WithLabelValues(name).Inc()
	metricCommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// StartMetricsServer has the RegisterDaemon starter shape. An empty addr disables it.
func StartMetricsServer(ctx context.Context, addr string) (bool, func(), func()) {
	if addr == "" {
		return false, nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	run := func() {
		LogMetrics(MsgMetricsListening, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			LogMetrics(MsgMetricsServeFail, err)
		}
	}

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	return true, run, shutdown
}

// refreshProfileGauge resyncs the gauge with the table. Between runs, profile creation increments it.
func refreshProfileGauge(ctx context.Context, store *SQLProfileStore) {
	n, err := store.CountProfiles(ctx)
	if err != nil {
		LogDatabase(MsgGenericError, err)
		return
	}
	metricProfiles.Set(float64(n))
}
