package bridge

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
)

var (
	connectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wormhole_bridge_connected",
		Help: "Whether the bridge has an open controller connection (1 or 0)",
	})
	reconnectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wormhole_bridge_reconnects_total",
		Help: "Number of times the controller connection was lost or could not be opened",
	})
	inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wormhole_bridge_commands_in_flight",
		Help: "Number of commands currently being executed",
	})
	commandsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wormhole_bridge_commands_total",
		Help: "Commands executed, by command and outcome",
	}, []string{"command", "outcome"})
	commandDurationHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wormhole_bridge_command_duration_seconds",
		Help:    "Duration of commands in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})
)

// StartMetricsServer starts an HTTP server exposing Prometheus metrics on /metrics.
// It returns the address it is listening on.
func StartMetricsServer(ctx context.Context, addr string) (string, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		connectedGauge,
		reconnectsCounter,
		inFlightGauge,
		commandsCounter,
		commandDurationHist,
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return serve(ctx, addr, mux, "metrics server error")
}

func serve(ctx context.Context, addr string, h http.Handler, errMsg string) (string, error) {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	actual := ln.Addr().String()
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Log.Error().Err(err).Str("addr", actual).Msg(errMsg)
		}
	}()
	return actual, nil
}

func setConnected(v bool) {
	if v {
		connectedGauge.Set(1)
	} else {
		connectedGauge.Set(0)
	}
}

// commandMetrics feeds the command runtime's observations into the
// collectors and the manager's in-flight count.
type commandMetrics struct {
	t *tracker
}

func (m commandMetrics) CommandStarted(string) {
	m.t.addInFlight(1)
}

func (m commandMetrics) CommandFinished(name string, success bool, d time.Duration) {
	m.t.addInFlight(-1)
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	commandsCounter.WithLabelValues(name, outcome).Inc()
	commandDurationHist.WithLabelValues(name).Observe(d.Seconds())
}
