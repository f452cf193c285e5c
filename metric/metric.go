package metric

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"storj.io/drpc"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
)

const CName = "guard.metric"

var log = logger.NewNamed(CName)

func New() Metric {
	return new(metric)
}

type Config struct {
	Addr string `yaml:"addr"`
}

type configSource interface {
	GetMetric() Config
}

type Metric interface {
	Registry() *prometheus.Registry
	// WrapDRPCHandler records call durations and coded failures of every rpc served by h
	WrapDRPCHandler(h drpc.Handler) drpc.Handler
	app.ComponentRunnable
}

type metric struct {
	registry *prometheus.Registry
	config   Config
	server   *http.Server
	addr     string
}

func (m *metric) Init(a *app.App) (err error) {
	m.registry = prometheus.NewRegistry()
	if cs, ok := a.Component("config").(configSource); ok {
		m.config = cs.GetMetric()
	}
	return nil
}

func (m *metric) Name() string {
	return CName
}

func (m *metric) Run(ctx context.Context) (err error) {
	if err = m.registry.Register(collectors.NewBuildInfoCollector()); err != nil {
		return err
	}
	if err = m.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if m.config.Addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return err
	}
	m.addr = lis.Addr().String()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if serveErr := m.server.Serve(lis); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error("metric server stopped", zap.Error(serveErr))
		}
	}()
	log.Info("metric server started", zap.String("addr", m.addr))
	return nil
}

func (m *metric) Registry() *prometheus.Registry {
	return m.registry
}

func (m *metric) WrapDRPCHandler(h drpc.Handler) drpc.Handler {
	if m == nil {
		return h
	}
	durations := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "drpc",
		Subsystem: "server",
		Name:      "duration_seconds",
		Objectives: map[float64]float64{
			0.5:  0.5,
			0.85: 0.01,
			0.95: 0.0005,
			0.99: 0.0001,
		},
	}, []string{"rpc"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drpc",
		Subsystem: "server",
		Name:      "errors_total",
	}, []string{"rpc", "code"})
	for _, c := range []prometheus.Collector{durations, errs} {
		if err := m.registry.Register(c); err != nil {
			log.Warn("can't register prometheus drpc metric", zap.Error(err))
			return h
		}
	}
	return &prometheusDRPC{Handler: h, durations: durations, errors: errs}
}

func (m *metric) Close(ctx context.Context) (err error) {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
