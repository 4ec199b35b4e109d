package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/modspec/config"
	"github.com/timzifer/modspec/internal/logging"
	"github.com/timzifer/modspec/internal/reload"
	"github.com/timzifer/modspec/telemetry"
)

func main() {
	cfgPath := flag.String("config", "modspec.yaml", "Path to configuration file")
	validate := flag.Bool("validate", false, "Validate and bind the schema, then exit")
	once := flag.Bool("once", false, "Dump the device once and exit")
	metricsListen := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	if *validate {
		if err := executeValidate(cfg, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "schema invalid: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	if *metricsListen != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Listen = *metricsListen
	}
	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector = telemetry.Noop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry.Enabled && cfg.Telemetry.Listen != "" {
		stop := serveMetrics(cfg.Telemetry.Listen, logger)
		defer stop()
	}

	if *once {
		if err := runOnce(ctx, cfg, logger, collector, os.Stdout); err != nil {
			logger.Fatal().Err(err).Msg("dump failed")
		}
		return
	}
	if err := run(ctx, *cfgPath, cfg, logger, collector, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("stopped with error")
	}
}

func runOnce(ctx context.Context, cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector, out io.Writer) error {
	sess, err := openSession(cfg, logger, collector)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.poll(ctx, out)
}

// run polls the device until ctx ends. With hot reload enabled the session is
// rebuilt whenever the configuration or the schema file changes; a broken
// reload keeps the previous session.
func run(ctx context.Context, cfgPath string, cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector, out io.Writer) error {
	sess, err := openSession(cfg, logger, collector)
	if err != nil {
		return err
	}
	defer func() { sess.Close() }()

	var watcher *reload.Watcher
	if cfg.HotReload {
		watcher = reload.NewWatcher(cfgPath, cfg.SchemaPath())
	}
	pollTicker := time.NewTicker(cfg.PollInterval())
	defer pollTicker.Stop()
	reloadTicker := time.NewTicker(time.Second)
	defer reloadTicker.Stop()

	if err := sess.poll(ctx, out); err != nil {
		logger.Error().Err(err).Msg("poll failed")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pollTicker.C:
			if err := sess.poll(ctx, out); err != nil {
				logger.Error().Err(err).Msg("poll failed")
			}
		case <-reloadTicker.C:
			if watcher == nil {
				continue
			}
			changes := watcher.Check()
			if len(changes) == 0 {
				continue
			}
			newCfg, err := config.Load(cfgPath)
			if err == nil {
				err = newCfg.Validate()
			}
			if err != nil {
				logger.Error().Err(err).Msg("failed to reload configuration")
				watcher.Update(cfgPath, cfg.SchemaPath())
				continue
			}
			next, err := openSession(newCfg, logger, collector)
			if err != nil {
				logger.Error().Err(err).Strs("files", changes).Msg("reload rejected")
				watcher.Update(cfgPath, newCfg.SchemaPath())
				continue
			}
			sess.Close()
			sess, cfg = next, newCfg
			watcher.Update(cfgPath, cfg.SchemaPath())
			pollTicker.Reset(cfg.PollInterval())
			for _, file := range changes {
				collector.IncHotReload(file)
			}
			logger.Info().Strs("files", changes).Msg("schema rebound")
		}
	}
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}

func serveMetrics(listen string, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("listen", listen).Msg("metrics endpoint stopped")
		}
	}()
	logger.Info().Str("listen", listen).Msg("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
