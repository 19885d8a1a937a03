package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 1, cfg.ChunkHours)
	assert.False(t, cfg.Prefetch)
	assert.True(t, cfg.StackLevels)
	assert.False(t, cfg.KeepNegative)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "gridstream-progress", cfg.KafkaProgressTopic)
	assert.False(t, cfg.ProgressEnabled())
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("CHUNK_HOURS", "25")
	t.Setenv("PREFETCH", "true")
	t.Setenv("STACK_LEVELS", "false")
	t.Setenv("KEEP_NEGATIVE", "true")
	t.Setenv("METRICS_ADDR", ":9102")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_PROGRESS_TOPIC", "conversions")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 25, cfg.ChunkHours)
	assert.True(t, cfg.Prefetch)
	assert.False(t, cfg.StackLevels)
	assert.True(t, cfg.KeepNegative)
	assert.Equal(t, ":9102", cfg.MetricsAddr)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "conversions", cfg.KafkaProgressTopic)
	assert.True(t, cfg.ProgressEnabled())
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidChunkHours(t *testing.T) {
	for _, v := range []string{"0", "-3", "abc"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("CHUNK_HOURS", v)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "CHUNK_HOURS")
		})
	}
}

func TestLoad_InvalidBool(t *testing.T) {
	t.Setenv("PREFETCH", "maybe")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PREFETCH")
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "xml")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_FORMAT")
}

func TestParseVariableList(t *testing.T) {
	got := ParseVariableList(
		[]string{"SURFPREC.EAU.CON,SURFPREC.NEI.CON", " SURFFLU.RAY.SOLA "},
		[]string{"SURFPREC.EAU.CON", "", "SURFACCPLUIE"},
	)
	assert.Equal(t, []string{"SURFPREC.EAU.CON", "SURFPREC.NEI.CON", "SURFFLU.RAY.SOLA", "SURFACCPLUIE"}, got)
}

func TestReadVariableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlist.txt")
	content := "# accumulated fields\nSURFPREC.EAU.CON\n\n  SURFPREC.NEI.CON  \n#SURFIGNORED\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	names, err := ReadVariableFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SURFPREC.EAU.CON", "SURFPREC.NEI.CON"}, names)

	_, err = ReadVariableFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
