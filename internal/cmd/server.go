package cmd

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/qscaler/internal/errors"
	"github.com/Iron-Ham/qscaler/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// metricsServer serves /metrics and /healthz.
type metricsServer struct {
	srv    *http.Server
	logger *logging.Logger
	addr   string
}

func newMetricsServer(addr string, g prometheus.Gatherer, logger *logging.Logger) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &metricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.WithComponent("metrics"),
		addr:   addr,
	}
}

// Start listens synchronously, so a bad address fails startup, and serves
// in the background.
func (m *metricsServer) Start() error {
	ln, err := net.Listen("tcp", m.srv.Addr)
	if err != nil {
		return err
	}
	m.addr = ln.Addr().String()
	m.logger.Info("serving metrics", "addr", m.addr)

	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (m *metricsServer) Addr() string {
	return m.addr
}

// Shutdown stops the server, waiting briefly for in-flight scrapes.
func (m *metricsServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = m.srv.Shutdown(ctx)
}
