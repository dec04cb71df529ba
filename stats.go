package xdpbind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	graphite "github.com/cyberdelia/go-metrics-graphite"
	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind/config"
)

// startStats validates the stats config and returns a function that runs the configured exporter until ctx is done.
// A nil function with a nil error means stats are disabled.
func startStats(l *logrus.Logger, c *config.C, buildVersion string, configTest bool) (func(ctx context.Context) error, time.Duration, error) {
	mType := c.GetString("stats.type", "")
	if mType == "" || mType == "none" {
		return nil, 0, nil
	}

	interval := c.GetDuration("stats.interval", 0)
	if interval == 0 {
		return nil, 0, fmt.Errorf("stats.interval was an invalid duration: %s", c.GetString("stats.interval", ""))
	}

	var run func(ctx context.Context) error
	var err error
	switch mType {
	case "graphite":
		run, err = startGraphiteStats(l, interval, c)
	case "prometheus":
		run, err = startPrometheusStats(l, interval, c, buildVersion)
	default:
		return nil, 0, fmt.Errorf("stats.type was not understood: %s", mType)
	}
	if err != nil {
		return nil, 0, err
	}

	if configTest {
		return nil, interval, nil
	}

	metrics.RegisterDebugGCStats(metrics.DefaultRegistry)
	metrics.RegisterRuntimeMemStats(metrics.DefaultRegistry)

	return func(ctx context.Context) error {
		go metrics.CaptureDebugGCStats(metrics.DefaultRegistry, interval)
		go metrics.CaptureRuntimeMemStats(metrics.DefaultRegistry, interval)
		return run(ctx)
	}, interval, nil
}

func startGraphiteStats(l *logrus.Logger, i time.Duration, c *config.C) (func(ctx context.Context) error, error) {
	proto := c.GetString("stats.protocol", "tcp")
	host := c.GetString("stats.host", "")
	if host == "" {
		return nil, errors.New("stats.host can not be empty")
	}

	prefix := c.GetString("stats.prefix", "xdpbind")
	addr, err := net.ResolveTCPAddr(proto, host)
	if err != nil {
		return nil, fmt.Errorf("error while setting up graphite sink: %s", err)
	}

	return func(ctx context.Context) error {
		l.Infof("Starting graphite. Interval: %s, prefix: %s, addr: %s", i, prefix, addr)
		go graphite.Graphite(metrics.DefaultRegistry, i, prefix, addr)
		<-ctx.Done()
		return nil
	}, nil
}

func startPrometheusStats(l *logrus.Logger, i time.Duration, c *config.C, buildVersion string) (func(ctx context.Context) error, error) {
	namespace := c.GetString("stats.namespace", "")
	subsystem := c.GetString("stats.subsystem", "")

	listen := c.GetString("stats.listen", "")
	if listen == "" {
		return nil, fmt.Errorf("stats.listen should not be empty")
	}

	path := c.GetString("stats.path", "")
	if path == "" {
		return nil, fmt.Errorf("stats.path should not be empty")
	}

	pr := prometheus.NewRegistry()
	pClient := mp.NewPrometheusProvider(metrics.DefaultRegistry, namespace, subsystem, pr, i)

	// Export our version information as labels on a static gauge
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "info",
		Help:      "Version information for the xdpbind binary",
		ConstLabels: prometheus.Labels{
			"version":   buildVersion,
			"goversion": runtime.Version(),
		},
	})
	pr.MustRegister(g)
	g.Set(1)

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(pr, promhttp.HandlerOpts{ErrorLog: l}))
	srv := &http.Server{Addr: listen, Handler: mux}

	return func(ctx context.Context) error {
		go pClient.UpdatePrometheusMetrics()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()

		l.Infof("Prometheus stats listening on %s at %s", listen, path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("prometheus stats listener: %w", err)
		}
		return nil
	}, nil
}
