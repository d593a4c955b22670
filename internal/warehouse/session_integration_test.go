package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres starts a disposable database with the destination table laid
// out per Columns and returns a config pointing at it.
func startPostgres(t *testing.T) *Config {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("siripipe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Errorf("Failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	defer func() {
		_ = db.Close()
	}()

	columnDefs := make([]string, len(Columns))
	for i, column := range Columns {
		columnType := "TEXT"
		if column == "INGESTION_TIME" {
			columnType = "TIMESTAMPTZ"
		}

		columnDefs[i] = fmt.Sprintf("%s %s", column, columnType)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE mta_realtime_vehicles (%s)", strings.Join(columnDefs, ", ")))
	require.NoError(t, err)

	return &Config{
		Driver:         DriverPostgres,
		dsn:            connStr,
		Table:          "mta_realtime_vehicles",
		MaxOpenConns:   defaultMaxOpenConns,
		MaxIdleConns:   defaultMaxIdleConns,
		ConnectTimeout: defaultConnectTimeout,
	}
}

func TestSessionAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := startPostgres(t)

	session, err := Open(ctx, cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
	})

	require.NoError(t, session.EnsureTable(ctx))

	ingestionTime := time.Now().UTC().Truncate(time.Second)

	rows := make([][]any, 3)
	for i := range rows {
		rows[i] = BuildRow(map[string]any{
			"vehicleref":               fmt.Sprintf("MTA NYCT_%d", i),
			"lineref":                  "MTA NYCT_M15",
			"recordedattime":           "2026-08-29T11:59:58Z",
			"vehiclelocationlatitude":  "40.7527",
			"vehiclelocationlongitude": "None",
		}, ingestionTime)
	}

	require.NoError(t, session.InsertRows(ctx, rows))

	var count int
	require.NoError(t, session.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mta_realtime_vehicles").Scan(&count))
	assert.Equal(t, 3, count)

	// The sanitized coordinate landed as NULL, not as the literal token.
	var nullLongitudes int
	require.NoError(t, session.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mta_realtime_vehicles WHERE vehiclelocationlongitude IS NULL").Scan(&nullLongitudes))
	assert.Equal(t, 3, nullLongitudes)

	var sourceSystem string
	require.NoError(t, session.db.QueryRowContext(ctx,
		"SELECT DISTINCT source_system FROM mta_realtime_vehicles").Scan(&sourceSystem))
	assert.Equal(t, SourceSystem, sourceSystem)
}

func TestEnsureTableMissingColumns(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := startPostgres(t)
	cfg.Table = "wrong_table"

	session, err := Open(ctx, cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
	})

	require.ErrorIs(t, session.EnsureTable(ctx), ErrTableNotDescribable)
}
