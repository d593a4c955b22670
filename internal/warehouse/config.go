package warehouse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/siripipe-io/siripipe/internal/config"
)

// Supported warehouse drivers.
const (
	DriverSnowflake = "snowflake"
	DriverPostgres  = "postgres"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnectTimeout  = 15 * time.Second
)

var (
	// ErrUnknownDriver is returned when the configured driver is not supported.
	ErrUnknownDriver = errors.New("unknown warehouse driver")

	// ErrMissingAccount is returned when the Snowflake account identifier is empty.
	ErrMissingAccount = errors.New("warehouse account is required")

	// ErrMissingUser is returned when the warehouse user is empty.
	ErrMissingUser = errors.New("warehouse user is required")

	// ErrMissingPrivateKey is returned when no private key path is configured.
	// Password authentication is not supported; key-pair authentication only.
	ErrMissingPrivateKey = errors.New("private key path is required (key-pair authentication only)")

	// ErrMissingTable is returned when the destination table name is empty.
	ErrMissingTable = errors.New("destination table name is required")

	// ErrMissingDSN is returned when the postgres driver is selected without a DSN.
	ErrMissingDSN = errors.New("warehouse DSN is required for the postgres driver")
)

// Config holds warehouse connection configuration. The production driver is
// Snowflake with key-pair authentication; the postgres driver exists for local
// development and integration tests against a plain database.
type Config struct {
	Driver string

	// Snowflake connection parameters.
	Account              string
	User                 string
	Role                 string
	Warehouse            string
	Database             string
	Schema               string
	PrivateKeyPath       string
	privateKeyPassphrase string

	// Postgres DSN (driver=postgres only).
	dsn string

	// Destination table (unqualified; qualified with Database.Schema for Snowflake).
	Table string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// LoadConfig loads warehouse configuration from environment variables with
// production defaults. The environment names mirror the deployment's .env
// contract (SNOWFLAKE_* for connection identity, STREAMING_* for the target).
func LoadConfig() *Config {
	return &Config{
		Driver:               config.GetEnvStr("WAREHOUSE_DRIVER", DriverSnowflake),
		Account:              config.GetEnvStr("SNOWFLAKE_ACCOUNT", ""),
		User:                 config.GetEnvStr("SNOWFLAKE_USER", ""),
		Role:                 config.GetEnvStr("SNOWFLAKE_ROLE", ""),
		Warehouse:            config.GetEnvStr("SNOWFLAKE_WAREHOUSE", ""),
		Database:             config.GetEnvStr("SNOWFLAKE_DATABASE", ""),
		Schema:               config.GetEnvStr("SNOWFLAKE_SCHEMA", "PUBLIC"),
		PrivateKeyPath:       config.GetEnvStr("SNOWFLAKE_PRIVATE_KEY_PATH", ""),
		privateKeyPassphrase: config.GetEnvStr("SNOWFLAKE_PRIVATE_KEY_PASSPHRASE", ""),
		dsn:                  config.GetEnvStr("WAREHOUSE_DSN", ""),
		Table:                config.GetEnvStr("STREAMING_TABLE_NAME", "MTA_REALTIME_VEHICLES"),
		MaxOpenConns:         config.GetEnvInt("WAREHOUSE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:         config.GetEnvInt("WAREHOUSE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime:      config.GetEnvDuration("WAREHOUSE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnectTimeout:       config.GetEnvDuration("WAREHOUSE_CONNECT_TIMEOUT", defaultConnectTimeout),
	}
}

// Validate checks that the configuration is complete for the selected driver.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSnowflake:
		if strings.TrimSpace(c.Account) == "" {
			return ErrMissingAccount
		}

		if strings.TrimSpace(c.User) == "" {
			return ErrMissingUser
		}

		if strings.TrimSpace(c.PrivateKeyPath) == "" {
			return ErrMissingPrivateKey
		}
	case DriverPostgres:
		if strings.TrimSpace(c.dsn) == "" {
			return ErrMissingDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}

	if strings.TrimSpace(c.Table) == "" {
		return ErrMissingTable
	}

	return nil
}

// QualifiedTable returns the fully-qualified destination table name. Snowflake
// tables are qualified as database.schema.table; postgres tables are used
// as-is (schema resolution is the DSN's search_path concern).
func (c *Config) QualifiedTable() string {
	if c.Driver == DriverSnowflake && c.Database != "" && c.Schema != "" {
		return fmt.Sprintf("%s.%s.%s", c.Database, c.Schema, c.Table)
	}

	return c.Table
}

// MaskDSN returns the postgres DSN with any password replaced, safe for logging.
func (c *Config) MaskDSN() string {
	if c.dsn == "" {
		return ""
	}

	schemeEnd := strings.Index(c.dsn, "://")
	if schemeEnd == -1 {
		return c.dsn
	}

	afterScheme := c.dsn[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return c.dsn
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		return c.dsn
	}

	username := userInfo[:colonIndex]
	if userInfo[colonIndex+1:] == "" {
		return c.dsn
	}

	return c.dsn[:schemeEnd] + "://" + username + ":***" + afterScheme[lastAtIndex:]
}
