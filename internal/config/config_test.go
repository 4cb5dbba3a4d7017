package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5000.0, cfg.MatchRadiusMeters)
	assert.Equal(t, 3, cfg.LocationUpdateLimit)
	assert.Equal(t, "hospital-locations", cfg.KafkaLocationTopic)
	assert.Empty(t, cfg.PGDSN)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.RunMigrations)
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("HTTP_READ_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("MATCH_RADIUS_METERS", "2500")
	t.Setenv("LOCATION_UPDATE_LIMIT", "5")
	t.Setenv("PROCESSING_FEE_PER_UNIT", "15000")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2500.0, cfg.MatchRadiusMeters)
	assert.Equal(t, 5, cfg.LocationUpdateLimit)
	assert.Equal(t, int64(15000), cfg.ProcessingFeePerUnit)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigJoinsErrors(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("MATCH_RADIUS_METERS", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_READ_TIMEOUT")
	assert.Contains(t, err.Error(), "MATCH_RADIUS_METERS")
	assert.Contains(t, err.Error(), "RATE_LIMIT_BURST")
}

func TestLoadConsumerConfig(t *testing.T) {
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "hospitals_geo", cfg.RedisGeoKey)

	t.Setenv("KAFKA_GROUP", "geo-2")
	t.Setenv("REDIS_RETRY_ATTEMPTS", "0")
	cfg, err = LoadConsumerConfig()
	require.Error(t, err)
	assert.Equal(t, "geo-2", cfg.GroupID)
}
