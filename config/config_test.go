package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "climbing", cfg.MQTTTopicPrefix)
	assert.Equal(t, byte(1), cfg.MQTTQoS)
	assert.Equal(t, 10*time.Second, cfg.StatusCheckTimeout)
	assert.Equal(t, time.Minute, cfg.OwnerCacheTTL)
	assert.False(t, cfg.AMQPEnabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MQTT_TOPIC_PREFIX", "alpine")
	t.Setenv("STATUS_CHECK_TIMEOUT_SEC", "25")
	t.Setenv("AMQP_ENABLED", "true")
	t.Setenv("COMMAND_RATE_PER_MIN", "12.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "alpine", cfg.MQTTTopicPrefix)
	assert.Equal(t, 25*time.Second, cfg.StatusCheckTimeout)
	assert.True(t, cfg.AMQPEnabled)
	assert.Equal(t, 12.5, cfg.CommandRatePerMin)
}
