package logging

import (
	"bytes"
	"testing"

	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/modspec/config"
)

func TestSetupWriterJSON(t *testing.T) {
	var out bytes.Buffer
	logger, cleanup, err := SetupWriter(config.LoggingConfig{Level: "DEBUG"}, &out)
	require.NoError(t, err)
	defer cleanup()

	require.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	logger.Debug().Str("group", "status").Msg("group read")
	logger.Trace().Msg("dropped")
	require.Contains(t, out.String(), `"group":"status"`)
	require.NotContains(t, out.String(), "dropped")
}

func TestSetupWriterText(t *testing.T) {
	var out bytes.Buffer
	logger, cleanup, err := SetupWriter(config.LoggingConfig{Format: "text"}, &out)
	require.NoError(t, err)
	defer cleanup()

	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	logger.Info().Msg("schema bound")
	require.Contains(t, out.String(), "schema bound")
	require.NotContains(t, out.String(), `"message"`)
}

func TestSetupRejectsInvalidSettings(t *testing.T) {
	_, _, err := SetupWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)

	_, _, err = SetupWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)

	_, _, err = SetupWriter(config.LoggingConfig{Loki: config.LokiConfig{Enabled: true}}, &bytes.Buffer{})
	require.ErrorContains(t, err, "loki url")
}

func TestLokiLabelsDefaultApp(t *testing.T) {
	require.Equal(t, model.LabelSet{"app": "modspec"}, lokiLabels(nil))
	require.Equal(t, model.LabelSet{"app": "bms", "site": "a"}, lokiLabels(map[string]string{"app": "bms", "site": "a"}))
}
