package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/siripipe-io/siripipe/internal/config"
	"github.com/siripipe-io/siripipe/internal/metrics"
	"github.com/siripipe-io/siripipe/internal/warehouse"
)

// Orchestration defaults. A warehouse session is rebuilt proactively once it
// reaches sessionMaxAge; after a failed rebuild the orchestrator waits
// refreshCooldown before trying again so a broken warehouse is not hammered.
const (
	defaultBatchSize       = 1000
	defaultChannelCount    = 4
	defaultPollInterval    = 1 * time.Second
	defaultSessionMaxAge   = 2 * time.Hour
	defaultRefreshCooldown = 5 * time.Minute
	defaultFailedDir       = "failed_records"

	// One initial attempt plus up to two retries, auth errors only.
	insertAttempts = 3
)

// ErrRefreshCoolingDown indicates a session rebuild was requested while the
// cooldown from a previous failed rebuild is still in effect.
var ErrRefreshCoolingDown = errors.New("session refresh cooling down after failure")

// Source delivers batches of canonicalized records. Commit acknowledges the
// batch returned by the preceding FetchBatch.
type Source interface {
	FetchBatch(ctx context.Context) ([]Record, error)
	Commit(ctx context.Context) error
	Close() error
}

// WarehouseSession is one authenticated connection to the warehouse table.
type WarehouseSession interface {
	Inserter
	Age() time.Duration
	Close() error
}

// SessionFactory builds a fresh warehouse session. The orchestrator calls it
// at startup and on every refresh.
type SessionFactory func(ctx context.Context) (WarehouseSession, error)

// Options tune the orchestrator. Zero values fall back to the defaults
// above.
type Options struct {
	BatchSize       int
	ChannelCount    int
	PollInterval    time.Duration
	SessionMaxAge   time.Duration
	RefreshCooldown time.Duration
	FailedDir       string

	// DisableValidation accepts every record as-is, for replaying
	// quarantined data. DisableFailedStore skips the side files for
	// rejected records; rejections are still counted.
	DisableValidation  bool
	DisableFailedStore bool
}

// LoadOptions builds orchestrator options from the environment.
func LoadOptions() Options {
	return Options{
		BatchSize:          config.GetEnvInt("INGEST_BATCH_SIZE", defaultBatchSize),
		ChannelCount:       config.GetEnvInt("INGEST_CHANNEL_COUNT", defaultChannelCount),
		PollInterval:       config.GetEnvDuration("INGEST_POLL_INTERVAL", defaultPollInterval),
		SessionMaxAge:      config.GetEnvDuration("SESSION_MAX_AGE", defaultSessionMaxAge),
		RefreshCooldown:    config.GetEnvDuration("SESSION_REFRESH_COOLDOWN", defaultRefreshCooldown),
		FailedDir:          config.GetEnvStr("FAILED_RECORDS_DIR", defaultFailedDir),
		DisableValidation:  !config.GetEnvBool("SIRIPIPE_VALIDATION_ENABLED", true),
		DisableFailedStore: !config.GetEnvBool("FAILED_RECORDS_ENABLED", true),
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}

	if o.ChannelCount <= 0 {
		o.ChannelCount = defaultChannelCount
	}

	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}

	if o.SessionMaxAge <= 0 {
		o.SessionMaxAge = defaultSessionMaxAge
	}

	if o.RefreshCooldown <= 0 {
		o.RefreshCooldown = defaultRefreshCooldown
	}

	if o.FailedDir == "" {
		o.FailedDir = defaultFailedDir
	}

	return o
}

// sessionBox wraps the current session so it can sit behind an atomic
// pointer and be swapped wholesale on refresh.
type sessionBox struct {
	session WarehouseSession
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	RecordsProcessed int64
	RecordsFailed    int64
	BufferedRows     int
	ActiveChannels   int
}

// Orchestrator drives the pipeline: fetch a batch from the source, validate
// and format each record, spread sub-batches across the channel pool, and
// insert through the current warehouse session with auth-aware retry. A
// session whose token has expired is rebuilt in place and the insert
// retried; all other insert failures send the affected records to the
// failed-record store.
type Orchestrator struct {
	opts      Options
	source    Source
	factory   SessionFactory
	pool      *Pool
	validator Validator
	failed    *FailedStore
	logger    *slog.Logger

	session atomic.Pointer[sessionBox]

	// refreshMu serializes session rebuilds so concurrent sub-batch
	// failures produce one refresh, not one per channel.
	refreshMu          sync.Mutex
	lastRefreshFailure time.Time

	processed atomic.Int64
	failedN   atomic.Int64

	stopOnce sync.Once
	stopErr  error
}

// NewOrchestrator wires the pipeline together and opens the first warehouse
// session.
func NewOrchestrator(ctx context.Context, source Source, factory SessionFactory, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	opts = opts.withDefaults()

	var failed *FailedStore

	if !opts.DisableFailedStore {
		var err error

		failed, err = NewFailedStore(opts.FailedDir, logger)
		if err != nil {
			return nil, err
		}
	}

	o := &Orchestrator{
		opts:      opts,
		source:    source,
		factory:   factory,
		pool:      NewPool("siripipe", opts.ChannelCount, logger),
		validator: Validator{Enabled: !opts.DisableValidation},
		failed:    failed,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}

	session, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening initial warehouse session: %w", err)
	}

	o.session.Store(&sessionBox{session: session})

	return o, nil
}

// Run polls the source until the context is canceled. Each poll fetches a
// batch, processes it, and sleeps out the remainder of the poll interval.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("Pipeline started",
		slog.Int("batch_size", o.opts.BatchSize),
		slog.Int("channels", o.opts.ChannelCount),
		slog.Duration("poll_interval", o.opts.PollInterval))

	for {
		start := time.Now()

		if err := o.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			o.logger.Error("Poll cycle failed", slog.String("error", err.Error()))
		}

		metrics.UpdateMemoryUsage()

		idle := o.opts.PollInterval - time.Since(start)
		if idle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idle):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// tick runs one poll cycle: proactive session refresh if due, fetch,
// process, commit.
func (o *Orchestrator) tick(ctx context.Context) error {
	if o.current().Age() >= o.opts.SessionMaxAge {
		if err := o.refreshSession(ctx); err != nil && !errors.Is(err, ErrRefreshCoolingDown) {
			o.logger.Warn("Scheduled session refresh failed", slog.String("error", err.Error()))
		}
	}

	records, err := o.source.FetchBatch(ctx)
	if err != nil {
		return err
	}

	if len(records) > 0 {
		o.processBatch(ctx, records)
	}

	if err := o.source.Commit(ctx); err != nil {
		return err
	}

	return nil
}

// subBatch pairs formatted rows with their source records so failure
// accounting can refer back to the originals.
type subBatch struct {
	rows    [][]any
	records []Record
}

// processBatch validates and formats the fetched records, then inserts the
// accepted ones through the channel pool, one goroutine per sub-batch.
func (o *Orchestrator) processBatch(ctx context.Context, records []Record) {
	now := time.Now().UTC()

	var accepted subBatch

	for _, record := range records {
		record.EnsureDefaults(now)
		record.NormalizeTimestamps()

		ok, violations := o.validator.Validate(record)
		if !ok {
			o.rejectRecord(record, violations)

			continue
		}

		accepted.rows = append(accepted.rows, warehouse.BuildRow(record, now))
		accepted.records = append(accepted.records, record)
	}

	if len(accepted.rows) == 0 {
		return
	}

	batches := splitBatch(accepted, o.opts.BatchSize)

	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)

		go func(i int, batch subBatch) {
			defer wg.Done()
			o.ingestSubBatch(ctx, o.pool.Channel(channelIndex(i, o.pool.Size())), batch)
		}(i, batch)
	}

	wg.Wait()
}

// channelIndex maps batch index i onto one of n channels round-robin.
func channelIndex(i, n int) int {
	return i % n
}

// splitBatch cuts the accepted records into sub-batches of at most size
// rows.
func splitBatch(batch subBatch, size int) []subBatch {
	var batches []subBatch

	for start := 0; start < len(batch.rows); start += size {
		end := start + size
		if end > len(batch.rows) {
			end = len(batch.rows)
		}

		batches = append(batches, subBatch{
			rows:    batch.rows[start:end],
			records: batch.records[start:end],
		})
	}

	return batches
}

// ingestSubBatch pushes one sub-batch through a channel with auth-aware
// retry. The first attempt appends the rows and may flush; retries only
// re-flush the already-buffered rows, so an auth failure mid-flush never
// duplicates them. A terminal failure leaves the channel buffer intact;
// the rows ride along on the channel's next flush attempt.
func (o *Orchestrator) ingestSubBatch(ctx context.Context, ch *Channel, batch subBatch) {
	appended := false

	var refreshErr error

	err := retry.Do(
		func() error {
			if refreshErr != nil {
				return refreshErr
			}

			if !appended {
				appended = true

				return ch.Ingest(ctx, o.current(), batch.rows)
			}

			return ch.Flush(ctx, o.current())
		},
		retry.Attempts(insertAttempts),
		retry.RetryIf(warehouse.IsAuthError),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			o.logger.Warn("Authentication error during insert, refreshing session",
				slog.Uint64("attempt", uint64(attempt)+1),
				slog.String("channel", ch.Name()),
				slog.String("error", err.Error()))

			refreshErr = o.refreshSession(ctx)
		}),
	)
	if err != nil {
		o.failSubBatch(ch, batch, err)

		return
	}

	o.processed.Add(int64(len(batch.rows)))
	metrics.RecordsProcessed(len(batch.rows))
}

// failSubBatch records a terminal insert failure. The channel's buffer is
// left alone so the rows can still land on a later flush; the failure only
// shows up in the counters.
func (o *Orchestrator) failSubBatch(ch *Channel, batch subBatch, cause error) {
	o.logger.Error("Sub-batch insert failed, rows remain buffered",
		slog.String("channel", ch.Name()),
		slog.Int("rows", len(batch.rows)),
		slog.Int("buffered", ch.Len()),
		slog.String("error", cause.Error()))

	o.failedN.Add(int64(len(batch.records)))
	metrics.RecordsFailed(len(batch.records))
	ch.MarkFailed()
}

// rejectRecord handles a record that failed validation.
func (o *Orchestrator) rejectRecord(record Record, violations []string) {
	o.logger.Warn("Record failed validation",
		slog.String("vehicle_ref", record.String(fieldVehicleRef)),
		slog.Any("violations", violations))

	o.saveFailed(record, "validation failed", violations)

	o.failedN.Add(1)
	metrics.RecordsFailed(1)
}

// saveFailed persists one record to the failed store when it is enabled.
func (o *Orchestrator) saveFailed(record Record, reason string, violations []string) {
	if o.failed == nil {
		return
	}

	if err := o.failed.Save(record, reason, violations); err != nil {
		o.logger.Error("Failed to save failed record", slog.String("error", err.Error()))
	}
}

// refreshSession rebuilds the warehouse session. Rebuilds are serialized;
// when several sub-batches hit an auth error at once, the first one pays for
// the rebuild and the rest see the fresh session. After a failed rebuild the
// cooldown applies.
func (o *Orchestrator) refreshSession(ctx context.Context) error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	if !o.lastRefreshFailure.IsZero() && time.Since(o.lastRefreshFailure) < o.opts.RefreshCooldown {
		return ErrRefreshCoolingDown
	}

	o.logger.Info("Refreshing warehouse session",
		slog.Duration("session_age", o.current().Age()))

	fresh, err := o.factory(ctx)
	if err != nil {
		o.lastRefreshFailure = time.Now()

		return fmt.Errorf("rebuilding warehouse session: %w", err)
	}

	old := o.session.Swap(&sessionBox{session: fresh})
	o.lastRefreshFailure = time.Time{}

	if old != nil {
		if err := old.session.Close(); err != nil {
			o.logger.Warn("Failed to close previous session", slog.String("error", err.Error()))
		}
	}

	o.logger.Info("Warehouse session refreshed")

	return nil
}

// current returns the live warehouse session.
func (o *Orchestrator) current() WarehouseSession {
	return o.session.Load().session
}

// Stats returns a snapshot of the pipeline counters. Rows counted as failed
// that a later flush delivered anyway are moved back to the processed side,
// so the two counters always reflect what actually reached the warehouse.
func (o *Orchestrator) Stats() Stats {
	recovered := o.pool.Recovered()

	return Stats{
		RecordsProcessed: o.processed.Load() + recovered,
		RecordsFailed:    o.failedN.Load() - recovered,
		BufferedRows:     o.pool.Buffered(),
		ActiveChannels:   o.pool.Size(),
	}
}

// Stop drains the channel pool, commits outstanding offsets, and closes the
// source and session. Safe to call more than once.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.stopOnce.Do(func() {
		o.logger.Info("Stopping pipeline")

		var errs []error

		if err := o.pool.FlushAll(ctx, o.current()); err != nil {
			errs = append(errs, err)
		}

		if err := o.source.Commit(ctx); err != nil {
			errs = append(errs, err)
		}

		if err := o.source.Close(); err != nil {
			errs = append(errs, err)
		}

		if err := o.current().Close(); err != nil {
			errs = append(errs, err)
		}

		o.stopErr = errors.Join(errs...)
	})

	return o.stopErr
}
