// Package metrics exposes the bot's Prometheus instrumentation.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// CommandsDispatched counts successfully dispatched commands by name.
	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodebot_commands_total",
		Help: "Commands dispatched to handlers",
	}, []string{"command"})

	// CommandsRejected counts pipeline rejections by reason.
	CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodebot_command_rejections_total",
		Help: "Commands rejected before reaching a handler",
	}, []string{"reason"})

	// PointsAwarded counts listening reward points credited.
	PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "episodebot_points_awarded_total",
		Help: "Points credited by the reward scheduler",
	})

	// CratesPurchased counts crate purchases by kind.
	CratesPurchased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodebot_crates_purchased_total",
		Help: "Crates purchased",
	}, []string{"kind"})

	// CratesDelivered counts crates delivered to inventories by kind.
	CratesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodebot_crates_delivered_total",
		Help: "Crates generated and delivered",
	}, []string{"kind"})

	// RequestOutcomes counts request engine resolutions by outcome.
	RequestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "episodebot_request_outcomes_total",
		Help: "Request engine resolutions",
	}, []string{"outcome"})
)

// Serve exposes /metrics on addr until ctx is canceled.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}
