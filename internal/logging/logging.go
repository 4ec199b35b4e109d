package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/timzifer/modspec/config"
)

const defaultApp = "modspec"

// Setup creates a zerolog logger writing to stdout according to cfg. The
// returned cleanup flushes the Loki client when one was configured.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	return SetupWriter(cfg, os.Stdout)
}

// SetupWriter is Setup with a custom primary output.
func SetupWriter(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}

	primary := out
	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "text", "console":
		primary = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stdout}
	default:
		return zerolog.Logger{}, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	writers := []io.Writer{primary}
	cleanup := func() {}
	if cfg.Loki.Enabled {
		lokiWriter, stop, err := newLokiWriter(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, lokiWriter)
		cleanup = stop
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger().Level(level)
	return logger, cleanup, nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

func newLokiWriter(cfg config.LokiConfig) (io.Writer, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create loki client: %w", err)
	}
	return &lokiWriter{client: client, labels: lokiLabels(cfg.Labels)}, client.Stop, nil
}

func lokiLabels(in map[string]string) model.LabelSet {
	labels := model.LabelSet{}
	for k, v := range in {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	if _, ok := labels["app"]; !ok {
		labels["app"] = defaultApp
	}
	return labels
}

type lokiWriter struct {
	client *loki.Client
	labels model.LabelSet
}

func (l *lokiWriter) Write(p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	err := l.client.Handle(l.labels, time.Now(), entry)
	return len(p), err
}
