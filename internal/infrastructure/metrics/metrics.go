// Package metrics provides Prometheus metrics for backup operations.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

var (
	// OperationCount tracks create, restore and cleanup runs by outcome
	OperationCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_operations_total",
		Help: "The total number of backup operations performed",
	}, []string{"operation", "status"})

	// OperationDuration measures time taken by each operation
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "archivist_operation_duration_seconds",
		Help:    "Time taken to perform a backup operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// ItemFailures counts databases and directories that failed inside an operation
	ItemFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_item_failures_total",
		Help: "The total number of database or directory items that failed",
	}, []string{"operation", "kind"})

	// ArchiveSize tracks the size of the last backup file in bytes
	ArchiveSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "archivist_archive_size_bytes",
		Help: "Size of the last backup file in bytes",
	})

	// RetentionDeletes counts backups deleted by the retention window
	RetentionDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archivist_retention_deletions_total",
		Help: "The total number of backups deleted by retention policy",
	}, []string{"storage"})

	// LastSuccessTimestamp records when each operation last succeeded
	LastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "archivist_last_success_timestamp",
		Help: "Timestamp of the last successful operation",
	}, []string{"operation"})
)

// ObserveOperation records the outcome of one operation.
func ObserveOperation(operation, status string, took time.Duration) {
	OperationCount.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(took.Seconds())
	if status != StatusFailed {
		LastSuccessTimestamp.WithLabelValues(operation).SetToCurrentTime()
	}
}

// Handler serves the metrics and health check endpoints.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Serve runs the metrics server until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
