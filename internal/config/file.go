package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigFileNotFound is returned when the given configuration file does not exist.
var ErrConfigFileNotFound = errors.New("configuration file not found")

// ApplyFile reads a YAML configuration file and applies its values as process
// defaults: each scalar under a nested section becomes an environment variable
// named by joining the section path with underscores, upper-cased. A variable
// that is already set in the environment wins; the file only provides
// defaults.
//
// Example file:
//
//	kafka:
//	  brokers: broker-1:9092,broker-2:9092
//	  consumer_group: siripipe-ingest
//	snowflake:
//	  account: xy12345
//
// becomes KAFKA_BROKERS, KAFKA_CONSUMER_GROUP and SNOWFLAKE_ACCOUNT, each
// readable through the GetEnv* helpers with their usual defaults on top.
func ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}

		return fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}

	applySection(nil, root)

	return nil
}

// applySection walks a nested YAML mapping and sets environment variables for
// its scalar leaves, skipping variables that are already set.
func applySection(path []string, section map[string]any) {
	for key, value := range section {
		keyPath := append(append([]string(nil), path...), key)

		switch v := value.(type) {
		case map[string]any:
			applySection(keyPath, v)
		case nil:
			// Empty node, nothing to apply.
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}

			setDefault(envName(keyPath), strings.Join(parts, ","))
		default:
			setDefault(envName(keyPath), fmt.Sprint(v))
		}
	}
}

// envName converts a YAML key path like [kafka, consumer_group] into
// KAFKA_CONSUMER_GROUP.
func envName(path []string) string {
	return strings.ToUpper(strings.Join(path, "_"))
}

// setDefault sets an environment variable only if it is not already set, so
// explicitly exported variables keep precedence over file contents.
func setDefault(key, value string) {
	if _, ok := os.LookupEnv(key); ok {
		return
	}

	_ = os.Setenv(key, value)
}
