package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Realtime connection
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goalchat_inbound_events_total",
			Help: "Inbound realtime events by wire type",
		},
		[]string{"type"},
	)

	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goalchat_decode_errors_total",
			Help: "Inbound frames dropped because they did not parse",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goalchat_reconnects_total",
			Help: "Connection losses followed by a reconnect attempt",
		},
	)

	// Conversation
	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goalchat_duplicates_dropped_total",
			Help: "Inbound content events collapsed into an existing entry",
		},
	)

	HistoryLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goalchat_history_loads_total",
			Help: "History loads by result",
		},
		[]string{"result"}, // "ok", "error" or "stale"
	)

	// Outbound
	OutboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goalchat_outbound_events_total",
			Help: "Outbound events by type and resulting delivery state",
		},
		[]string{"type", "delivery"},
	)

	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "goalchat_outbox_depth",
			Help: "Events waiting in the outbox",
		},
	)

	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goalchat_uploads_total",
			Help: "Attachment uploads by kind and result",
		},
		[]string{"kind", "result"},
	)

	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goalchat_upload_duration_seconds",
			Help:    "Attachment upload duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr is a no-op.
func Serve(ctx context.Context, addr string, log *zap.Logger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info("metrics listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
