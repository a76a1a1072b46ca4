package util

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "wstap"

// NewMetricsRegistry returns a registry exposing the Stats counters, plus the
// Go runtime and process collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	counter := func(name, help string, v *atomic.Int64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	counter("connects_total", "Successful WebSocket upgrades", &Stats.Connects)
	counter("disconnects_total", "Connections torn down after the upgrade", &Stats.Disconnects)
	counter("connect_failures_total", "Connection attempts that did not reach status 101", &Stats.Failures)
	counter("frames_sent_total", "Data frames written to the server", &Stats.FramesOut)
	counter("frames_received_total", "Data frames delivered to the device", &Stats.FramesIn)
	counter("bytes_sent_total", "Payload bytes read from the device", &Stats.BytesOut)
	counter("bytes_received_total", "Payload bytes written to the device", &Stats.BytesIn)
	counter("pings_total", "Keepalive pings sent", &Stats.Pings)

	return reg
}

// ServeMetrics serves reg on addr at /metrics until ctx is cancelled. The
// listener is bound before ServeMetrics returns.
func ServeMetrics(ctx context.Context, addr string, reg *prometheus.Registry) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			LogError("metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	LogInfo("metrics available at http://%s/metrics", ln.Addr())
	return ln.Addr(), nil
}
