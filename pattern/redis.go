package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

const (
	redisPatternPrefix = "siteflow:pattern:"
	redisDomainPrefix  = "siteflow:pattern:domain:"
	redisIndexKey      = "siteflow:pattern:index"
)

// RedisStore keeps patterns in redis so multiple engine instances share one
// learned set. Each pattern is a JSON value under a prefixed key; a global
// index set and per-domain sets support listing without SCAN.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisStore creates a redis-backed store.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		logger: logger.With(zap.String("component", "pattern_redis_store")),
		now:    time.Now,
	}
}

// WithNow swaps the clock, for tests.
func (s *RedisStore) WithNow(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) get(ctx context.Context, id string) (*types.SitePattern, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, redisPatternPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound()
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern read failed").WithCause(err)
	}
	var p types.SitePattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern value corrupt").WithCause(err)
	}
	return &p, nil
}

func (s *RedisStore) put(ctx context.Context, p *types.SitePattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return types.NewError(types.ErrInternal, "pattern encode failed").WithCause(err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisPatternPrefix+p.ID, data, 0)
	pipe.SAdd(ctx, redisIndexKey, p.ID)
	pipe.SAdd(ctx, redisDomainPrefix+p.Domain, p.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrInternal, "pattern write failed").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, domain, pageType string) (*types.SitePattern, error) {
	return s.get(ctx, types.PatternID(domain, pageType))
}

func (s *RedisStore) Save(ctx context.Context, p *types.SitePattern) error {
	stored := clonePattern(p)
	if err := prepare(stored, s.now()); err != nil {
		return err
	}
	if err := s.put(ctx, stored); err != nil {
		return err
	}
	p.ID = stored.ID
	p.Domain = stored.Domain
	return nil
}

func (s *RedisStore) UpdateStats(ctx context.Context, patternID string, success bool, duration time.Duration) error {
	p, err := s.get(ctx, patternID)
	if err != nil {
		return err
	}
	p.RecordUse(success, s.now())
	return s.put(ctx, p)
}

func (s *RedisStore) List(ctx context.Context, domain string) ([]*types.SitePattern, error) {
	domain = types.NormalizeDomain(domain)
	indexKey := redisIndexKey
	if domain != "" {
		indexKey = redisDomainPrefix + domain
	}
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "pattern list failed").WithCause(err)
	}
	var out []*types.SitePattern
	for _, id := range ids {
		p, err := s.get(ctx, id)
		if err != nil {
			if types.IsCode(err, types.ErrPatternNotFound) {
				continue // index entry outlived its value
			}
			return nil, err
		}
		out = append(out, p)
	}
	sortPatterns(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, domain, pageType string) error {
	id := types.PatternID(domain, pageType)
	if err := ValidateID(id); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisPatternPrefix+id)
	pipe.SRem(ctx, redisIndexKey, id)
	pipe.SRem(ctx, redisDomainPrefix+types.NormalizeDomain(domain), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrInternal, "pattern delete failed").WithCause(err)
	}
	return nil
}

func (s *RedisStore) Export(ctx context.Context) ([]byte, error) {
	all, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(all)
}

func (s *RedisStore) Import(ctx context.Context, data []byte) (int, error) {
	patterns, err := decodeExport(data)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range patterns {
		if err := s.Save(ctx, p); err != nil {
			s.logger.Warn("pattern import entry skipped", zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

func (s *RedisStore) Close() error { return nil }
