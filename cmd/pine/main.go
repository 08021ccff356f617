package main

import (
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/google/gops/agent"
	"github.com/google/uuid"
	"github.com/nicolagi/chunkring/internal/config"
	"github.com/nicolagi/chunkring/internal/metrics"
	"github.com/nicolagi/chunkring/ring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// flagKeys maps command-line flags to the configuration keys they override.
var flagKeys = map[string]string{
	"lnet":    "listen.network",
	"l":       "listen.address",
	"rnet":    "remote.network",
	"r":       "remote.address",
	"buffer":  "buffer.size",
	"trace":   "trace.enabled",
	"level":   "log.level",
	"metrics": "metrics.address",
	"gops":    "gops.enabled",
}

func setupLogging(c config.LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if strings.ToLower(c.Format) == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger := log.WithField("addr", addr)
	logger.Info("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithField("cause", err).Error("Could not serve metrics")
	}
}

func listen(e config.Endpoint) (net.Listener, error) {
	listener, err := net.Listen(e.Network, e.Address)
	if err != nil && e.Network == "unix" {
		listener, err = retryIfStaleUnixSocket(err, e.Address)
	}
	return listener, err
}

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	var configFile string
	flag.StringVar(&configFile, "config", "", "configuration `file` (YAML)")
	flag.String("lnet", "tcp", "local listen address network `type`")
	flag.String("l", "", "local listen `address`")
	flag.String("rnet", "tcp", "remote connect address network `type`")
	flag.String("r", "", "remote connect `address`")
	flag.Int("buffer", 64<<10, "chunk ring `size` in bytes for each direction")
	flag.Bool("trace", true, "print 9P messages to standard output")
	flag.String("level", "info", "log `level`")
	flag.String("metrics", "", "serve Prometheus metrics on `address`")
	flag.Bool("gops", false, "start the gops diagnostics agent")
	flag.Parse()

	loader := config.NewLoader()
	flag.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			loader.Set(key, f.Value.(flag.Getter).Get())
		}
	})
	cfg, err := loader.Load(configFile)
	if err != nil {
		log.WithField("cause", err).Error("Could not load configuration")
		flag.Usage()
		os.Exit(1)
	}
	if err := setupLogging(cfg.Log); err != nil {
		log.WithField("cause", err).Fatal("Could not set up logging")
	}

	logger := log.WithFields(log.Fields{
		"lnet":  cfg.Listen.Network,
		"laddr": cfg.Listen.Address,
		"rnet":  cfg.Remote.Network,
		"raddr": cfg.Remote.Address,
	})

	if cfg.Gops.Enabled {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.WithField("cause", err).Warning("Could not start gops agent")
		}
	}

	registry := prometheus.NewRegistry()
	s := &stager{
		ring:     ring.NewRegistry(ring.WithLogger(log.WithField("component", "ring"))),
		metrics:  metrics.NewMetrics(registry),
		buffer:   cfg.Buffer,
		trace:    cfg.Trace,
		traceOut: os.Stdout,
	}
	if cfg.Metrics.Address != "" {
		go serveMetrics(cfg.Metrics.Address, registry)
	}

	listener, err := listen(cfg.Listen)
	if err != nil {
		logger.WithField("cause", err).Fatal("Could not listen")
	}
	for {
		local, err := listener.Accept()
		if err != nil {
			logger.WithField("cause", err).Error("Could not accept")
			continue
		}
		connLogger := logger.WithField("conn", uuid.New().String())
		request, response, err := s.open()
		if err != nil {
			_ = local.Close()
			outcome := "failed"
			if errors.Is(err, ring.ErrRegistryExhausted) {
				outcome = "refused"
			}
			s.metrics.Connections.WithLabelValues(outcome).Inc()
			connLogger.WithField("cause", err).Warning("Could not stage connection")
			continue
		}
		remote, err := net.Dial(cfg.Remote.Network, cfg.Remote.Address)
		if err != nil {
			_ = local.Close()
			s.destroy(request)
			s.destroy(response)
			s.metrics.Connections.WithLabelValues("failed").Inc()
			connLogger.WithField("cause", err).Error("Could not connect")
			continue
		}
		s.metrics.Connections.WithLabelValues("accepted").Inc()
		go s.pipe(local, remote, request, "request", connLogger)
		go s.pipe(remote, local, response, "response", connLogger)
	}
}
