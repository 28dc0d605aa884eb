package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/shmcache/pkg/shmcache/metrics/prom"
)

const shutdownTimeout = 5 * time.Second

// ServeMetricsCmd returns the serve-metrics command.
func ServeMetricsCmd(sess *session) *Command {
	flags := flag.NewFlagSet("serve-metrics", flag.ContinueOnError)
	listen := flags.String("listen", "127.0.0.1:9464", "Address to serve /metrics on")

	return &Command{
		Flags: flags,
		Usage: "serve-metrics [--listen addr]",
		Short: "Serve segment metrics for Prometheus",
		Long: "Serve the segment's shared counters on /metrics until interrupted.\n" +
			"Occupancy is read at scrape time, so it reflects every attached process.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if err := argsExactly(args, 0, "serve-metrics [--listen addr]"); err != nil {
				return err
			}

			return execServeMetrics(ctx, o, sess, *listen)
		},
	}
}

// metricsRegistry registers the per-process adapter as the session's
// metrics sink and returns a registry that also collects c's shared stats.
func metricsRegistry(sess *session) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"cache": sess.cfg.Name}

	sess.metrics = prom.New(reg, "shmcache", "", labels)

	c, err := sess.open()
	if err != nil {
		return nil, err
	}

	err = reg.Register(prom.NewCollector(c, "shmcache", "", labels))
	if err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}

	return reg, nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return mux
}

func execServeMetrics(ctx context.Context, o *IO, sess *session, addr string) error {
	if sess.cache != nil {
		return fmt.Errorf("%w: serve-metrics must run before the cache is opened", ErrUsage)
	}

	reg, err := metricsRegistry(sess)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           metricsHandler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	o.Printf("serving metrics on http://%s/metrics\n", ln.Addr())
	sess.logger.Info("metrics server started", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err = <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	sess.logger.Info("metrics server stopped")

	return nil
}
