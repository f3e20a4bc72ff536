// Package dedup remembers command outcomes by command id for a bounded time window.
//
// The client transport resends a command after a reconnect without knowing whether the
// server ran it. With a Store in front of the dispatcher the second copy gets the first
// copy's outcome, turning at-least-once delivery into at-most-once execution per window.
package dedup

import (
	"context"
	"errors"
	"time"

	"fs-rpc/codec"
	"fs-rpc/logging"
	"fs-rpc/message"

	"github.com/allegro/bigcache/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	Load(id uuid.UUID) (*message.Outcome, bool)
	Store(id uuid.UUID, out *message.Outcome)
}

// BigCacheStore keeps encoded outcomes in a bigcache instance; entries expire after the
// configured TTL. Outcomes are encoded with the server's codec.
type BigCacheStore struct {
	cache  *bigcache.BigCache
	codec  codec.Codec
	logger *zap.Logger
}

// NewBigCacheStore creates a store whose entries live for ttl.
func NewBigCacheStore(ctx context.Context, ttl time.Duration, cdc codec.Codec, logger *zap.Logger) (*BigCacheStore, error) {
	if ttl <= 0 {
		return nil, errors.New("dedup: ttl must be positive")
	}
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 4096
	cfg.MaxEntrySize = 512
	cfg.HardMaxCacheSize = 64 // MB
	cfg.CleanWindow = max(ttl/2, time.Second)
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &BigCacheStore{cache: cache, codec: cdc, logger: logging.OrNop(logger)}, nil
}

func (s *BigCacheStore) Load(id uuid.UUID) (*message.Outcome, bool) {
	data, err := s.cache.Get(id.String())
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			s.logger.Warn("dedup: load failed", zap.Stringer("id", id), zap.Error(err))
		}
		return nil, false
	}
	out, err := codec.DecodeOutcome(s.codec, data)
	if err != nil {
		s.logger.Warn("dedup: corrupt entry", zap.Stringer("id", id), zap.Error(err))
		return nil, false
	}
	return out, true
}

func (s *BigCacheStore) Store(id uuid.UUID, out *message.Outcome) {
	data, err := codec.EncodeOutcome(s.codec, out)
	if err != nil {
		s.logger.Warn("dedup: encode failed", zap.Stringer("id", id), zap.Error(err))
		return
	}
	if err := s.cache.Set(id.String(), data); err != nil {
		s.logger.Warn("dedup: store failed", zap.Stringer("id", id), zap.Int("size", len(data)), zap.Error(err))
	}
}

func (s *BigCacheStore) Len() int {
	return s.cache.Len()
}

func (s *BigCacheStore) Close() error {
	return s.cache.Close()
}
