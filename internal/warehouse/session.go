// Package warehouse provides the authenticated session to the analytical
// warehouse and the fixed-layout bulk insert used by the ingestion pipeline.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"

	_ "github.com/lib/pq" // postgres driver for local development and integration tests
)

var (
	// ErrNoRows is returned when InsertRows is called with an empty row set.
	ErrNoRows = errors.New("no rows to insert")

	// ErrTableNotDescribable is returned when the destination table cannot be
	// described with the expected column layout.
	ErrTableNotDescribable = errors.New("destination table is not describable")
)

// Session is the authenticated connection to the warehouse. It is created
// once at startup and replaced wholesale on refresh: the orchestrator swaps a
// new Session in and closes the old one, it never mutates a live Session.
type Session struct {
	db      *sql.DB
	driver  string
	table   string
	created time.Time
	logger  *slog.Logger
}

// Open creates an authenticated warehouse session from the stored connection
// parameters. For the Snowflake driver the private key is resolved from PEM
// and the connection authenticates with a JWT derived from the key pair; for
// the postgres driver the DSN is used directly. The connection is verified
// with a ping before the session is returned.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid warehouse configuration: %w", err)
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to reach warehouse: %w", err)
	}

	logger.Info("Warehouse session created",
		slog.String("driver", cfg.Driver),
		slog.String("table", cfg.QualifiedTable()),
	)

	return &Session{
		db:      db,
		driver:  cfg.Driver,
		table:   cfg.QualifiedTable(),
		created: time.Now(),
		logger:  logger,
	}, nil
}

// buildDSN constructs the driver-specific connection string.
func buildDSN(cfg *Config) (string, error) {
	if cfg.Driver == DriverPostgres {
		return cfg.dsn, nil
	}

	key, err := LoadPrivateKey(cfg.PrivateKeyPath, cfg.privateKeyPassphrase)
	if err != nil {
		return "", err
	}

	dsn, err := sf.DSN(&sf.Config{
		Account:       cfg.Account,
		User:          cfg.User,
		Role:          cfg.Role,
		Warehouse:     cfg.Warehouse,
		Database:      cfg.Database,
		Schema:        cfg.Schema,
		Authenticator: sf.AuthTypeJwt,
		PrivateKey:    key,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build warehouse DSN: %w", err)
	}

	return dsn, nil
}

// Table returns the fully-qualified destination table name.
func (s *Session) Table() string {
	return s.table
}

// Age returns how long this session has existed. Used for logging around the
// periodic refresh.
func (s *Session) Age() time.Duration {
	return time.Since(s.created)
}

// EnsureTable verifies the destination table is describable with the full
// expected column layout. Called at startup and again after every session
// refresh; a failure here is fatal for the startup path.
func (s *Session) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", strings.Join(Columns, ", "), s.table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTableNotDescribable, s.table, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTableNotDescribable, s.table, err)
	}

	s.logger.Debug("Destination table verified",
		slog.String("table", s.table),
		slog.Int("columns", len(Columns)),
	)

	return nil
}

// InsertRows appends the given rows to the destination table as one bulk
// multi-row INSERT. Each row must match the Columns layout produced by
// BuildRow. The statement placeholder style follows the driver.
func (s *Session) InsertRows(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return ErrNoRows
	}

	query := buildInsertSQL(s.driver, s.table, len(rows))

	args := make([]any, 0, len(rows)*len(Columns))
	for _, row := range rows {
		args = append(args, row...)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %d rows into %s: %w", len(rows), s.table, err)
	}

	return nil
}

// buildInsertSQL renders a multi-row INSERT statement for the fixed column
// layout. Snowflake binds with "?", postgres with "$n".
func buildInsertSQL(driver, table string, rowCount int) string {
	var sb strings.Builder

	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(Columns, ", "))
	sb.WriteString(") VALUES ")

	arg := 1

	for row := range rowCount {
		if row > 0 {
			sb.WriteString(", ")
		}

		sb.WriteString("(")

		for col := range Columns {
			if col > 0 {
				sb.WriteString(", ")
			}

			if driver == DriverPostgres {
				fmt.Fprintf(&sb, "$%d", arg)
				arg++
			} else {
				sb.WriteString("?")
			}
		}

		sb.WriteString(")")
	}

	return sb.String()
}

// Close releases the underlying connection pool. Safe to call multiple times.
func (s *Session) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}
