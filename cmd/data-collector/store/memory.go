package store

import (
	"context"
	"fmt"
	"github.com/EagleChen/mapmutex"
	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/shared"
	"github.com/united-manufacturing-hub/data-collector/internal"
	"go.uber.org/zap"
	"time"
)

// MemoryStore is the in-process replacement for RedisStore used in DRY_RUN mode.
// Messages are kept as encoded snapshots, so callers never share a mutable message with the store.
type MemoryStore struct {
	entries *cache.Cache
	locks   *mapmutex.Mutex
}

func NewMemoryStore() *MemoryStore {
	zap.S().Infof("Running store in DRY_RUN mode. Nothing is persisted outside this process")
	return &MemoryStore{
		entries: cache.New(cache.NoExpiration, 0),
		// default configs: maxDelay: 100000000, // 0.1 second baseDelay: 10, // 10 nanosecond
		locks: mapmutex.NewCustomizedMapMutex(800, 100000000, 10, 1.1, 0.2),
	}
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	m.entries.Flush()
	return nil
}

func (m *MemoryStore) StoreMessage(_ context.Context, message *shared.WrapperMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return internal.NewPermanentError(fmt.Errorf("failed to encode message: %w", err))
	}
	metadata := shared.LastMessageMetadata{
		Timestamp:       time.Now().UTC(),
		WrapperID:       message.WrapperID,
		DataPointsCount: len(message.Data),
	}
	m.entries.Set(LastMessageKey, payload, cache.NoExpiration)
	m.entries.Set(LastMessageMetadataKey, metadata, cache.NoExpiration)
	m.entries.Set(WrapperMessagePrefix+message.WrapperID, payload, cache.NoExpiration)
	return nil
}

func (m *MemoryStore) GetLastMessage(context.Context) (*shared.WrapperMessage, error) {
	return m.getMessage(LastMessageKey)
}

func (m *MemoryStore) GetWrapperLastMessage(_ context.Context, wrapperID string) (*shared.WrapperMessage, error) {
	return m.getMessage(WrapperMessagePrefix + wrapperID)
}

func (m *MemoryStore) GetLastMessageMetadata(context.Context) (*shared.LastMessageMetadata, error) {
	value, found := m.entries.Get(LastMessageMetadataKey)
	if !found {
		return nil, nil
	}
	metadata := value.(shared.LastMessageMetadata)
	return &metadata, nil
}

func (m *MemoryStore) getMessage(key string) (*shared.WrapperMessage, error) {
	value, found := m.entries.Get(key)
	if !found {
		return nil, nil
	}
	var message shared.WrapperMessage
	if err := json.Unmarshal(value.([]byte), &message); err != nil {
		return nil, fmt.Errorf("corrupt %s entry: %w", key, err)
	}
	return &message, nil
}

func (m *MemoryStore) GetStats(_ context.Context, wrapperID string) (*shared.WrapperStatistics, error) {
	value, found := m.entries.Get(WrapperStatsPrefix + wrapperID)
	if !found {
		return nil, nil
	}
	stats := value.(shared.WrapperStatistics)
	return &stats, nil
}

// UpdateStats holds the wrapper's lock while it reads the old total and writes the new snapshot.
// The snapshot is replaced as a single value, so readers see either the old or the new one.
func (m *MemoryStore) UpdateStats(ctx context.Context, wrapperID string, message *shared.WrapperMessage, xType shared.XValueType) error {
	if err := m.lock(ctx, wrapperID); err != nil {
		return internal.NewTransientError(fmt.Errorf("failed to lock statistics of wrapper %s: %w", wrapperID, err))
	}
	defer m.locks.Unlock(wrapperID)

	var total int64
	if value, found := m.entries.Get(WrapperStatsPrefix + wrapperID); found {
		total = value.(shared.WrapperStatistics).TotalMessages
	}
	m.entries.Set(WrapperStatsPrefix+wrapperID, shared.WrapperStatistics{
		WrapperID:            wrapperID,
		LastMessageTimestamp: time.Now().UTC(),
		TotalMessages:        total + 1,
		XValueType:           xType,
		LastDataCount:        len(message.Data),
	}, cache.NoExpiration)
	return nil
}

func (m *MemoryStore) lock(ctx context.Context, wrapperID string) error {
	for !m.locks.TryLock(wrapperID) {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
