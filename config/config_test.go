package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Service.Addr)
	assert.Equal(t, "gochannel", cfg.PubSub.Driver)
	assert.Equal(t, 64, cfg.Hub.MaxNames)
	assert.Equal(t, 25*time.Second, cfg.Live.LongPollTimeout)
	assert.Equal(t, "X-Webitel", cfg.Webhook.HeaderPrefix)
	assert.Empty(t, cfg.Webhook.Endpoints)
}

func TestFileEnvAndFlagsLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  addr: ":9000"
log:
  level: debug
webhook:
  header_prefix: X-Acme
  endpoints:
    - app_id: crm
      url: https://crm.example.com/hooks
      secret: s3cret
      events: [message.created, thread.resolved]
`), 0o600))

	t.Setenv("IM_LIVE_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path, []string{"--service.addr=:9100"})
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Service.Addr, "flags win over the file")
	assert.Equal(t, "warn", cfg.Log.Level, "env wins over the file")
	assert.Equal(t, "X-Acme", cfg.Webhook.HeaderPrefix)
	require.Len(t, cfg.Webhook.Endpoints, 1)
	assert.Equal(t, []string{"message.created", "thread.resolved"}, cfg.Webhook.Endpoints[0].Events)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	_, err := LoadConfig("", []string{"--pubsub.driver=kafka", "--hub.max_names=0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub.driver")
	assert.Contains(t, err.Error(), "hub.max_names")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}
