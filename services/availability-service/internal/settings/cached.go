package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/calendar"
)

// Source is the authoritative settings store (Postgres in production).
type Source interface {
	CompanySettings(ctx context.Context, companyID string) (calendar.Settings, error)
}

// CachedProvider is a read-through Redis cache in front of the settings
// store. Settings change rarely but are read on every resolution, so a
// short TTL plus event-driven invalidation keeps them cheap and fresh.
// With a nil Redis client it degrades to a passthrough.
type CachedProvider struct {
	source Source
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedProvider(source Source, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{source: source, rdb: rdb, ttl: ttl, logger: logger}
}

func (p *CachedProvider) CompanySettings(ctx context.Context, companyID string) (calendar.Settings, error) {
	if p.rdb == nil {
		return p.source.CompanySettings(ctx, companyID)
	}

	key := cacheKey(companyID)
	raw, err := p.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var s calendar.Settings
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, nil
		}
		// A corrupt entry falls through to the store and gets rewritten.
		p.logger.Warn("corrupt settings cache entry", "company_id", companyID)
	} else if err != redis.Nil {
		p.logger.Warn("settings cache read failed", "company_id", companyID, "err", err)
	}

	s, err := p.source.CompanySettings(ctx, companyID)
	if err != nil {
		return calendar.Settings{}, err
	}
	if encoded, err := json.Marshal(s); err == nil {
		if err := p.rdb.Set(ctx, key, encoded, p.ttl).Err(); err != nil {
			p.logger.Warn("settings cache write failed", "company_id", companyID, "err", err)
		}
	}
	return s, nil
}

// Invalidate drops the cached entry; the next read repopulates it.
func (p *CachedProvider) Invalidate(ctx context.Context, companyID string) error {
	if p.rdb == nil {
		return nil
	}
	return p.rdb.Del(ctx, cacheKey(companyID)).Err()
}

func cacheKey(companyID string) string {
	return "availability:settings:" + companyID
}
