package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

const (
	scanCount = 500
	delChunk  = 500
)

// SeriesStore implements domain.SeriesStore with TS.ADD / TS.GET and
// SCAN-based key enumeration.
type SeriesStore struct {
	rdb *redis.Client
}

var _ domain.SeriesStore = (*SeriesStore)(nil)

// NewSeriesStore creates a SeriesStore on top of c.
func NewSeriesStore(c *Client) *SeriesStore {
	return &SeriesStore{rdb: c.Underlying()}
}

// Add appends p with TS.ADD. RETENTION, DUPLICATE_POLICY and LABELS only take
// effect when TS.ADD creates the series; on existing series they are ignored.
func (s *SeriesStore) Add(ctx context.Context, key string, p domain.Point, opts domain.SeriesOptions) error {
	args := &redis.TSOptions{
		Retention:       int(opts.RetentionMs),
		DuplicatePolicy: opts.DuplicatePolicy,
	}
	if len(opts.Labels) > 0 {
		args.Labels = map[string]string(opts.Labels)
	}
	if err := s.rdb.TSAddWithArgs(ctx, key, p.TimestampMs, p.Value, args).Err(); err != nil {
		return fmt.Errorf("redis: ts.add %s: %w", key, err)
	}
	return nil
}

// Latest returns the newest point of key via TS.GET.
func (s *SeriesStore) Latest(ctx context.Context, key string) (domain.Point, error) {
	v, err := s.rdb.TSGet(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(err.Error(), "does not exist") {
			return domain.Point{}, fmt.Errorf("redis: ts.get %s: %w", key, domain.ErrNotFound)
		}
		return domain.Point{}, fmt.Errorf("redis: ts.get %s: %w", key, err)
	}
	return domain.Point{TimestampMs: v.Timestamp, Value: v.Value}, nil
}

// Keys enumerates keys matching pattern with SCAN so large keyspaces are not
// blocked the way KEYS would.
func (s *SeriesStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Delete removes keys in chunks.
func (s *SeriesStore) Delete(ctx context.Context, keys ...string) error {
	for start := 0; start < len(keys); start += delChunk {
		end := min(start+delChunk, len(keys))
		if err := s.rdb.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis: del %d keys: %w", end-start, err)
		}
	}
	return nil
}
