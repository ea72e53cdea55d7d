// Package redis caches the booked ranges of each resource for the advisory
// pre-check and the calendar endpoint. The cache is never the authority: a
// stale entry can only let a doomed request reach the transaction or turn a
// request away one retry early.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"staybook/internal/booking"
)

const DefaultTTL = 5 * time.Minute

// Source is where ranges are loaded from on a cache miss.
type Source interface {
	ActiveByResource(ctx context.Context, resourceID string) ([]booking.Reservation, error)
}

// Snapshot implements booking.Snapshot on top of Redis.
type Snapshot struct {
	client *redis.Client
	source Source
	ttl    time.Duration
	logger *zap.Logger
}

func NewSnapshot(client *redis.Client, source Source, ttl time.Duration, logger *zap.Logger) *Snapshot {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshot{client: client, source: source, ttl: ttl, logger: logger.Named("snapshot")}
}

// NewClient connects to addr and pings it.
func NewClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func key(resourceID string) string {
	return "booked:" + resourceID
}

// generationKey counts the invalidations of a resource. A fill only lands if
// no Forget ran between reading the generation and writing the entry.
func generationKey(resourceID string) string {
	return "booked-gen:" + resourceID
}

var errStaleFill = errors.New("entry invalidated while loading")

// BookedRanges serves from the cache and fills it from the source on a miss.
// When Redis itself fails the source answers directly.
func (s *Snapshot) BookedRanges(ctx context.Context, resourceID string) ([]booking.DateRange, error) {
	raw, err := s.client.Get(ctx, key(resourceID)).Bytes()
	switch {
	case err == nil:
		var ranges []booking.DateRange
		if err := json.Unmarshal(raw, &ranges); err == nil {
			return ranges, nil
		}
		s.logger.Warn("dropping undecodable cache entry", zap.String("resource_id", resourceID))
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("cache read failed, using source", zap.String("resource_id", resourceID), zap.Error(err))
		return s.load(ctx, resourceID)
	}

	gen, err := s.generation(ctx, s.client, resourceID)
	if err != nil {
		s.logger.Warn("cache read failed, using source", zap.String("resource_id", resourceID), zap.Error(err))
		return s.load(ctx, resourceID)
	}
	ranges, err := s.load(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if err := s.fill(ctx, resourceID, gen, ranges); err != nil && !errors.Is(err, errStaleFill) {
		s.logger.Warn("cache fill failed", zap.String("resource_id", resourceID), zap.Error(err))
	}
	return ranges, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Snapshot) generation(ctx context.Context, c getter, resourceID string) (int64, error) {
	gen, err := c.Get(ctx, generationKey(resourceID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// fill caches ranges unless the resource was invalidated since gen was read.
func (s *Snapshot) fill(ctx context.Context, resourceID string, gen int64, ranges []booking.DateRange) error {
	if ranges == nil {
		ranges = []booking.DateRange{}
	}
	raw, err := json.Marshal(ranges)
	if err != nil {
		return err
	}

	gk := generationKey(resourceID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.generation(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(resourceID), raw, s.ttl)
			return nil
		})
		return err
	}, gk)
	if errors.Is(err, redis.TxFailedErr) {
		return errStaleFill
	}
	return err
}

func (s *Snapshot) load(ctx context.Context, resourceID string) ([]booking.DateRange, error) {
	rs, err := s.source.ActiveByResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return booking.Ranges(rs), nil
}

// Remember appends r to a cached entry, keeping its TTL. Nothing is cached
// when the entry is absent; the next read loads it, and a fill already in
// flight is invalidated. If another writer races us the entry is dropped
// instead.
func (s *Snapshot) Remember(ctx context.Context, resourceID string, r booking.DateRange) error {
	k := key(resourceID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return tx.Incr(ctx, generationKey(resourceID)).Err()
		}
		if err != nil {
			return err
		}

		var ranges []booking.DateRange
		if err := json.Unmarshal(raw, &ranges); err != nil {
			return err
		}
		updated, err := json.Marshal(append(ranges, r))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, k, updated, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}, k)
	if err != nil {
		return s.Forget(ctx, resourceID)
	}
	return nil
}

// Forget drops the cached entry of resourceID and invalidates any fill
// still in flight.
func (s *Snapshot) Forget(ctx context.Context, resourceID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(resourceID))
		pipe.Del(ctx, key(resourceID))
		return nil
	})
	return err
}
