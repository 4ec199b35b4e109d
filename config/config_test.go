package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/modspec/codec"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modspec.yaml")
	writeFile(t, path, `schema: schemas/bms.json
byte_order: little
endpoint:
  protocol: RTU
  address: /dev/ttyUSB0
  unit_id: 3
  timeout: 750ms
  baud_rate: 19200
  parity: E
page_width: 60
poll: 10s
hot_reload: true
filter: 'level >= 2'
logging:
  level: debug
  format: text
telemetry:
  enabled: true
  listen: ":9102"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, filepath.Join(dir, "schemas", "bms.json"), cfg.SchemaPath())
	order, err := cfg.Order()
	require.NoError(t, err)
	require.Equal(t, codec.LittleEndian, order)
	require.Equal(t, ProtocolRTU, cfg.Endpoint.ProtocolName())
	require.Equal(t, uint8(3), cfg.Endpoint.UnitID)
	require.Equal(t, 750*time.Millisecond, cfg.Endpoint.Timeout.Duration)
	require.Equal(t, 19200, cfg.Endpoint.BaudRate)
	require.Equal(t, 60, cfg.PageWidth)
	require.Equal(t, 10*time.Second, cfg.PollInterval())
	require.True(t, cfg.HotReload)
	require.Equal(t, "level >= 2", cfg.Filter)
	require.Equal(t, ":9102", cfg.Telemetry.Listen)
}

func TestDefaults(t *testing.T) {
	cfg := &Config{Schema: "/abs/bms.cue"}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "/abs/bms.cue", cfg.SchemaPath())
	require.Equal(t, time.Second, cfg.PollInterval())
	require.Equal(t, ProtocolTCP, cfg.Endpoint.ProtocolName())
	order, err := cfg.Order()
	require.NoError(t, err)
	require.Equal(t, codec.BigEndian, order)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		ByteOrder: "middle",
		Endpoint:  EndpointConfig{Protocol: "udp"},
		PageWidth: 500,
		Logging:   LoggingConfig{Loki: LokiConfig{Enabled: true}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, fragment := range []string{"schema path", "byte order", "protocol", "page_width", "loki url"} {
		require.Contains(t, err.Error(), fragment)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modspec.yaml")
	writeFile(t, path, "schema: a.json\npoll: soon\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestDurationMarshalYAML(t *testing.T) {
	out, err := Duration{Duration: 1500 * time.Millisecond}.MarshalYAML()
	require.NoError(t, err)
	require.Equal(t, "1.5s", out)
}
