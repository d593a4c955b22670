package ingest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/siripipe-io/siripipe/internal/config"
)

// Batch fetch tuning. The first fetch of a poll waits long enough to ride out
// an empty topic; once messages are flowing, subsequent fetches use a short
// deadline so a partially filled batch drains quickly.
const (
	maxBatchRecords    = 500
	firstFetchWait     = 1 * time.Second
	drainFetchWait     = 100 * time.Millisecond
	defaultDialTimeout = 10 * time.Second
)

var (
	// ErrMissingBrokers indicates no Kafka bootstrap servers were configured.
	ErrMissingBrokers = errors.New("kafka brokers not configured")

	// ErrMissingTopic indicates no Kafka topic was configured.
	ErrMissingTopic = errors.New("kafka topic not configured")

	// ErrInvalidOffsetReset indicates an unknown offset-reset policy.
	ErrInvalidOffsetReset = errors.New("kafka offset reset must be earliest or latest")
)

// KafkaConfig holds the consumer connection settings.
type KafkaConfig struct {
	Brokers       []string
	Topics        []string
	ConsumerGroup string

	// OffsetReset selects where a new consumer group begins reading:
	// "earliest" (the default) or "latest".
	OffsetReset string

	// SASL/PLAIN credentials; both empty disables SASL.
	Username string
	Password string

	UseTLS      bool
	MinBytes    int
	MaxBytes    int
	DialTimeout time.Duration
}

// LoadKafkaConfig builds the consumer configuration from the environment.
// KAFKA_TOPICS subscribes to several topics at once; when unset the single
// KAFKA_TOPIC applies.
func LoadKafkaConfig() KafkaConfig {
	topics := config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_TOPICS", ""))
	if len(topics) == 0 {
		topics = []string{config.GetEnvStr("KAFKA_TOPIC", "mta-vehicle-positions")}
	}

	return KafkaConfig{
		Brokers:       config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "localhost:9092")),
		Topics:        topics,
		OffsetReset:   config.GetEnvStr("KAFKA_OFFSET_RESET", "earliest"),
		ConsumerGroup: config.GetEnvStr("KAFKA_CONSUMER_GROUP", "siripipe"),
		Username:      config.GetEnvStr("KAFKA_USERNAME", ""),
		Password:      config.GetEnvStr("KAFKA_PASSWORD", ""),
		UseTLS:        config.GetEnvBool("KAFKA_USE_TLS", false),
		MinBytes:      config.GetEnvInt("KAFKA_MIN_BYTES", 1),
		MaxBytes:      config.GetEnvInt("KAFKA_MAX_BYTES", 10e6),
		DialTimeout:   config.GetEnvDuration("KAFKA_DIAL_TIMEOUT", defaultDialTimeout),
	}
}

// Validate checks that the configuration can produce a working consumer.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrMissingBrokers
	}

	if len(c.Topics) == 0 {
		return ErrMissingTopic
	}

	for _, topic := range c.Topics {
		if topic == "" {
			return ErrMissingTopic
		}
	}

	switch c.OffsetReset {
	case "", "earliest", "latest":
	default:
		return ErrInvalidOffsetReset
	}

	return nil
}

// startOffset maps the offset-reset policy onto a reader start offset.
func (c KafkaConfig) startOffset() int64 {
	if c.OffsetReset == "latest" {
		return kafka.LastOffset
	}

	return kafka.FirstOffset
}

// KafkaSource consumes vehicle-position messages from a Kafka topic and
// turns them into canonicalized records. Offsets are committed only after
// the caller has accepted the fetched batch.
type KafkaSource struct {
	reader *kafka.Reader
	logger *slog.Logger

	// pending holds the raw messages behind the last FetchBatch until they
	// are committed.
	pending []kafka.Message
}

// NewKafkaSource creates a consumer for the configured topic.
func NewKafkaSource(cfg KafkaConfig, logger *slog.Logger) (*KafkaSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := &kafka.Dialer{
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	if cfg.Username != "" || cfg.Password != "" {
		dialer.SASLMechanism = plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	if cfg.UseTLS {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	readerConfig := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        firstFetchWait,
		StartOffset:    cfg.startOffset(),
		Dialer:         dialer,
		CommitInterval: 0,
	}

	// The reader accepts either one Topic or a GroupTopics list, not both.
	if len(cfg.Topics) == 1 {
		readerConfig.Topic = cfg.Topics[0]
	} else {
		readerConfig.GroupTopics = cfg.Topics
	}

	return &KafkaSource{
		reader: kafka.NewReader(readerConfig),
		logger: logger.With(slog.String("component", "kafka_source")),
	}, nil
}

// FetchBatch reads up to maxBatchRecords records from the topic. It blocks up
// to firstFetchWait for the first message; after that each additional fetch
// waits at most drainFetchWait, so a quiet topic returns a short batch
// promptly. An empty batch with a nil error means the topic had nothing to
// deliver.
func (s *KafkaSource) FetchBatch(ctx context.Context) ([]Record, error) {
	var records []Record

	s.pending = s.pending[:0]
	wait := firstFetchWait

	for len(records) < maxBatchRecords {
		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		msg, err := s.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break
			}

			if ctx.Err() != nil {
				return records, ctx.Err()
			}

			return records, fmt.Errorf("fetching message: %w", err)
		}

		decoded, err := DecodeMessage(msg.Value)
		if err != nil {
			s.logger.Warn("Dropping undecodable message",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()))
			s.pending = append(s.pending, msg)
			wait = drainFetchWait

			continue
		}

		for _, record := range decoded {
			record[FieldKafkaTopic] = msg.Topic
			record[FieldKafkaPartition] = strconv.Itoa(msg.Partition)
			record[FieldKafkaOffset] = strconv.FormatInt(msg.Offset, 10)
			record[FieldKafkaTimestamp] = msg.Time.UTC().Format(time.RFC3339Nano)
			records = append(records, record)
		}

		s.pending = append(s.pending, msg)
		wait = drainFetchWait
	}

	return records, nil
}

// Commit marks the messages behind the last fetched batch as processed.
func (s *KafkaSource) Commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	if err := s.reader.CommitMessages(ctx, s.pending...); err != nil {
		return fmt.Errorf("committing offsets: %w", err)
	}

	s.pending = s.pending[:0]

	return nil
}

// Close shuts the consumer down and leaves the consumer group.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

// DecodeMessage parses a message payload into one or more canonicalized
// records. A payload may be a single JSON object or a JSON array of objects;
// array elements that are not objects are skipped.
func DecodeMessage(payload []byte) ([]Record, error) {
	var object map[string]any
	if err := json.Unmarshal(payload, &object); err == nil {
		return []Record{Canonicalize(object)}, nil
	}

	var list []any
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("payload is neither a JSON object nor an array: %w", err)
	}

	records := make([]Record, 0, len(list))

	for _, element := range list {
		if object, ok := element.(map[string]any); ok {
			records = append(records, Canonicalize(object))
		}
	}

	return records, nil
}
