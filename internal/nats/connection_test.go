package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConnectionConfig(t *testing.T) {
	config := DefaultConnectionConfig("nats://localhost:4222")

	assert.Equal(t, "nats://localhost:4222", config.URL)
	assert.Equal(t, "daedalus", config.Name)
	assert.Equal(t, 10, config.MaxReconnects)
	assert.Equal(t, "daedalus.progress", config.ProgressSubject)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("NATS_URL", "")
	_, ok := ConfigFromEnv()
	assert.False(t, ok)

	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("NATS_TOKEN", "secret")
	t.Setenv("DAEDALUS_PROGRESS_SUBJECT", "render.progress")
	config, ok := ConfigFromEnv()
	require.True(t, ok)
	assert.Equal(t, "nats://nats:4222", config.URL)
	assert.Equal(t, "secret", config.Token)
	assert.Equal(t, "render.progress", config.ProgressSubject)
}

func TestConnectValidatesConfig(t *testing.T) {
	_, err := Connect(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "cannot be nil")

	_, err = Connect(context.Background(), &ConnectionConfig{}, zap.NewNop())
	assert.ErrorContains(t, err, "URL cannot be empty")
}

func TestConnectFailsWithoutServer(t *testing.T) {
	config := DefaultConnectionConfig("nats://127.0.0.1:1")
	config.Timeout = 200 * time.Millisecond
	config.MaxReconnects = 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Connect(ctx, config, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, conn)
}

func TestNilConnectionHelpers(t *testing.T) {
	assert.NoError(t, Close(nil))
	assert.False(t, IsConnected(nil))
}
