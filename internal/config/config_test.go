package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "workers_geo", cfg.RedisGeoKey)
	require.Equal(t, "worker-locations", cfg.KafkaTopic)
	require.Equal(t, 5000.0, cfg.MatchRadiusMeters)
	require.Equal(t, 5, cfg.ETAFallbackMinutes)
	require.Equal(t, 30*time.Second, cfg.ETACacheTTL)
	require.False(t, cfg.RunMigrations)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("HTTP_READ_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("MATCH_RADIUS_METERS", "2500")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MIGRATE", "true")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, 2*time.Second, cfg.ReadTimeout)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 2500.0, cfg.MatchRadiusMeters)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.RunMigrations)
}

func TestInvalidValuesCollected(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("MATCH_RADIUS_METERS", "-1")
	_, err := LoadServerConfig()
	require.Error(t, err)
	require.ErrorContains(t, err, "HTTP_READ_TIMEOUT")
	require.ErrorContains(t, err, "MATCH_RADIUS_METERS")
}
