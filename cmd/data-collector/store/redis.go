package store

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"github.com/united-manufacturing-hub/data-collector/internal"
	"go.uber.org/zap"
	"strconv"
	"sync"
	"time"
)

const (
	LastMessageKey         = "last_message"
	LastMessageMetadataKey = "last_message_metadata"
	WrapperMessagePrefix   = "wrapper_last_message:"
	WrapperStatsPrefix     = "wrapper_stats:"
	WrapperCounterPrefix   = "wrapper_count:"
)

// updateStatsScript increments the wrapper counter and writes the snapshot carrying the new total.
// Running both inside one script keeps readers from ever seeing a counter without its snapshot.
var updateStatsScript = redis.NewScript(`
local total = redis.call('INCR', KEYS[1])
redis.call('HSET', KEYS[2],
	'wrapper_id', ARGV[1],
	'last_message_timestamp', ARGV[2],
	'total_messages', total,
	'x_value_type', ARGV[3],
	'last_data_count', ARGV[4])
return total
`)

// RedisStore keeps the latest messages and the per-wrapper statistics in redis.
type RedisStore struct {
	rdb       redis.UniversalClient
	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore parses a redis:// URL. It does not contact the server.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	zap.S().Debugf("Initializing redis store for %s (db %d)", options.Addr, options.DB)
	return NewRedisStoreFromClient(redis.NewClient(options)), nil
}

func NewRedisStoreFromClient(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	timeout, cancel := context.WithTimeout(ctx, internal.TenSeconds)
	defer cancel()
	pong, err := s.rdb.Ping(timeout).Result()
	if err != nil {
		return internal.NewTransientError(fmt.Errorf("redis is not available: %w", err))
	}
	if pong != "PONG" {
		return internal.NewTransientError(fmt.Errorf("unexpected redis ping reply %q", pong))
	}
	return nil
}

// Close releases the client once. Later calls return the first result.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rdb.Close()
	})
	return s.closeErr
}

func (s *RedisStore) StoreMessage(ctx context.Context, message *shared.WrapperMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return internal.NewPermanentError(fmt.Errorf("failed to encode message: %w", err))
	}
	metadata, err := json.Marshal(shared.LastMessageMetadata{
		Timestamp:       time.Now().UTC(),
		WrapperID:       message.WrapperID,
		DataPointsCount: len(message.Data),
	})
	if err != nil {
		return internal.NewPermanentError(fmt.Errorf("failed to encode message metadata: %w", err))
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, LastMessageKey, payload, 0)
		pipe.Set(ctx, LastMessageMetadataKey, metadata, 0)
		pipe.Set(ctx, WrapperMessagePrefix+message.WrapperID, payload, 0)
		return nil
	})
	if err != nil {
		return internal.NewTransientError(fmt.Errorf("failed to cache message of wrapper %s: %w", message.WrapperID, err))
	}
	return nil
}

func (s *RedisStore) GetLastMessage(ctx context.Context) (*shared.WrapperMessage, error) {
	return s.getMessage(ctx, LastMessageKey)
}

func (s *RedisStore) GetWrapperLastMessage(ctx context.Context, wrapperID string) (*shared.WrapperMessage, error) {
	return s.getMessage(ctx, WrapperMessagePrefix+wrapperID)
}

func (s *RedisStore) GetLastMessageMetadata(ctx context.Context) (*shared.LastMessageMetadata, error) {
	b, err := s.rdb.Get(ctx, LastMessageMetadataKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, internal.NewTransientError(err)
	}
	var metadata shared.LastMessageMetadata
	if err = json.Unmarshal(b, &metadata); err != nil {
		return nil, fmt.Errorf("corrupt %s entry: %w", LastMessageMetadataKey, err)
	}
	return &metadata, nil
}

func (s *RedisStore) getMessage(ctx context.Context, key string) (*shared.WrapperMessage, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, internal.NewTransientError(err)
	}
	var message shared.WrapperMessage
	if err = json.Unmarshal(b, &message); err != nil {
		return nil, fmt.Errorf("corrupt %s entry: %w", key, err)
	}
	return &message, nil
}

func (s *RedisStore) GetStats(ctx context.Context, wrapperID string) (*shared.WrapperStatistics, error) {
	fields, err := s.rdb.HGetAll(ctx, WrapperStatsPrefix+wrapperID).Result()
	if err != nil {
		return nil, internal.NewTransientError(err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return statsFromHash(fields)
}

func (s *RedisStore) UpdateStats(ctx context.Context, wrapperID string, message *shared.WrapperMessage, xType shared.XValueType) error {
	keys := []string{WrapperCounterPrefix + wrapperID, WrapperStatsPrefix + wrapperID}
	_, err := updateStatsScript.Run(ctx, s.rdb, keys,
		wrapperID,
		time.Now().UTC().Format(time.RFC3339Nano),
		string(xType),
		len(message.Data),
	).Int64()
	if err != nil {
		return internal.NewTransientError(fmt.Errorf("failed to update statistics of wrapper %s: %w", wrapperID, err))
	}
	return nil
}

func statsFromHash(fields map[string]string) (*shared.WrapperStatistics, error) {
	timestamp, err := time.Parse(time.RFC3339Nano, fields["last_message_timestamp"])
	if err != nil {
		return nil, fmt.Errorf("corrupt last_message_timestamp: %w", err)
	}
	total, err := strconv.ParseInt(fields["total_messages"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt total_messages: %w", err)
	}
	xType, err := shared.ParseXValueType(fields["x_value_type"])
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(fields["last_data_count"])
	if err != nil {
		return nil, fmt.Errorf("corrupt last_data_count: %w", err)
	}
	return &shared.WrapperStatistics{
		WrapperID:            fields["wrapper_id"],
		LastMessageTimestamp: timestamp,
		TotalMessages:        total,
		XValueType:           xType,
		LastDataCount:        count,
	}, nil
}
