package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "siripipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestApplyFile(t *testing.T) {
	// Guard against pollution from the host environment.
	t.Setenv("KAFKA_BROKERS", "")
	require.NoError(t, os.Unsetenv("KAFKA_BROKERS"))
	t.Setenv("KAFKA_CONSUMER_GROUP", "")
	require.NoError(t, os.Unsetenv("KAFKA_CONSUMER_GROUP"))
	t.Setenv("SNOWFLAKE_ACCOUNT", "")
	require.NoError(t, os.Unsetenv("SNOWFLAKE_ACCOUNT"))

	path := writeConfigFile(t, `
kafka:
  brokers:
    - broker-1:9092
    - broker-2:9092
  consumer_group: siripipe-ingest
snowflake:
  account: xy12345
`)

	require.NoError(t, ApplyFile(path))

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"},
		ParseCommaSeparatedList(GetEnvStr("KAFKA_BROKERS", "")))
	assert.Equal(t, "siripipe-ingest", GetEnvStr("KAFKA_CONSUMER_GROUP", ""))
	assert.Equal(t, "xy12345", GetEnvStr("SNOWFLAKE_ACCOUNT", ""))
}

func TestApplyFileEnvironmentWins(t *testing.T) {
	t.Setenv("KAFKA_TOPIC", "from-environment")

	path := writeConfigFile(t, `
kafka:
  topic: from-file
`)

	require.NoError(t, ApplyFile(path))

	assert.Equal(t, "from-environment", GetEnvStr("KAFKA_TOPIC", ""))
}

func TestApplyFileMissing(t *testing.T) {
	err := ApplyFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, ErrConfigFileNotFound)
}

func TestApplyFileInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "kafka: [unclosed")

	require.Error(t, ApplyFile(path))
}
