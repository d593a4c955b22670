package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/siripipe-io/siripipe/internal/metrics"
)

// Flush policy defaults: a channel flushes once it buffers flushThreshold
// rows, or on the first ingest after maxBufferAge has passed since its last
// flush.
const (
	defaultFlushThreshold = 100
	defaultMaxBufferAge   = 2 * time.Second
)

// Inserter writes formatted rows to the warehouse. The orchestrator passes
// the current session's inserter on every call, so channels survive a
// session refresh without holding stale connections.
type Inserter interface {
	InsertRows(ctx context.Context, rows [][]any) error
}

// Channel is one independent buffered lane into the warehouse table. Rows
// accumulate until the flush policy fires; a failed flush keeps the buffer
// intact so the rows retry on the next attempt.
type Channel struct {
	name           string
	flushThreshold int
	maxBufferAge   time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	rows      [][]any
	lastFlush time.Time
	inserted  int64

	// failedRows is how many buffered rows have already been reported
	// failed; recovered accumulates those that a later flush delivered.
	failedRows int64
	recovered  int64
}

// NewChannel creates a channel with the default flush policy.
func NewChannel(name string, logger *slog.Logger) *Channel {
	return &Channel{
		name:           name,
		flushThreshold: defaultFlushThreshold,
		maxBufferAge:   defaultMaxBufferAge,
		lastFlush:      time.Now(),
		logger:         logger.With(slog.String("channel", name)),
	}
}

// Ingest appends rows to the channel's buffer and flushes through ins when
// the buffer reaches the threshold or too long has passed since the last
// flush. The age check happens here, on the ingest path, not on a timer.
func (c *Channel) Ingest(ctx context.Context, ins Inserter, rows [][]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rows = append(c.rows, rows...)

	if !c.shouldFlushLocked() {
		return nil
	}

	return c.flushLocked(ctx, ins)
}

// Flush writes out whatever the channel has buffered, regardless of the
// flush policy. A channel with an empty buffer flushes trivially.
func (c *Channel) Flush(ctx context.Context, ins Inserter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flushLocked(ctx, ins)
}

// Len reports the number of buffered rows.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.rows)
}

// Inserted reports the number of rows this channel has written over its
// lifetime.
func (c *Channel) Inserted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inserted
}

// MarkFailed records that every row currently buffered has been counted as
// failed. If a later flush delivers them anyway, they move to the recovered
// tally.
func (c *Channel) MarkFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failedRows = int64(len(c.rows))
}

// Recovered reports how many rows were delivered by a flush after having
// been counted as failed.
func (c *Channel) Recovered() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.recovered
}

// Name returns the channel's identifier.
func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) shouldFlushLocked() bool {
	if len(c.rows) >= c.flushThreshold {
		return true
	}

	return len(c.rows) > 0 && time.Since(c.lastFlush) >= c.maxBufferAge
}

func (c *Channel) flushLocked(ctx context.Context, ins Inserter) error {
	if len(c.rows) == 0 {
		return nil
	}

	start := time.Now()

	if err := ins.InsertRows(ctx, c.rows); err != nil {
		return fmt.Errorf("flushing channel %s: %w", c.name, err)
	}

	elapsed := time.Since(start)
	metrics.ObserveIngestionLatency(elapsed)
	c.inserted += int64(len(c.rows))

	if c.failedRows > 0 {
		c.recovered += c.failedRows
		metrics.RecordsProcessed(int(c.failedRows))

		c.logger.Info("Recovered previously failed rows",
			slog.Int64("rows", c.failedRows))

		c.failedRows = 0
	}

	c.logger.Debug("Flushed channel",
		slog.Int("rows", len(c.rows)),
		slog.Int64("total_inserted", c.inserted),
		slog.Duration("elapsed", elapsed))

	c.rows = nil
	c.lastFlush = time.Now()

	return nil
}

// Pool is a fixed set of channels that rows are spread across. Distribution
// is round-robin by batch index, so concurrent sub-batch inserts land on
// distinct channels.
type Pool struct {
	channels []*Channel
}

// NewPool creates count channels named <prefix>_0 .. <prefix>_<count-1>.
func NewPool(prefix string, count int, logger *slog.Logger) *Pool {
	channels := make([]*Channel, count)

	for i := range channels {
		channels[i] = NewChannel(fmt.Sprintf("%s_%d", prefix, i), logger)
	}

	metrics.SetActiveChannels(count)

	return &Pool{channels: channels}
}

// Channel returns the channel for batch index i.
func (p *Pool) Channel(i int) *Channel {
	return p.channels[i%len(p.channels)]
}

// Size reports the number of channels in the pool.
func (p *Pool) Size() int {
	return len(p.channels)
}

// FlushAll drains every channel through ins, returning the first error.
func (p *Pool) FlushAll(ctx context.Context, ins Inserter) error {
	for _, ch := range p.channels {
		if err := ch.Flush(ctx, ins); err != nil {
			return err
		}
	}

	return nil
}

// Recovered reports the total number of rows across all channels that were
// delivered after having been counted as failed.
func (p *Pool) Recovered() int64 {
	var total int64

	for _, ch := range p.channels {
		total += ch.Recovered()
	}

	return total
}

// Buffered reports the total number of rows waiting across all channels.
func (p *Pool) Buffered() int {
	total := 0

	for _, ch := range p.channels {
		total += ch.Len()
	}

	return total
}
