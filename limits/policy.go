// Package limits provides ConnectionLimitPolicy implementations.
package limits

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-adconnect/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const limitCacheKeyPrefix = "adconnect::limits::v1"

// StaticPolicy grants every user the same number of connections.
type StaticPolicy struct {
	Max int
}

func (p StaticPolicy) MaxConnections(context.Context, string) (int, error) {
	if p.Max < 0 {
		return 0, fmt.Errorf("limits: static max must not be negative")
	}
	return p.Max, nil
}

// PlanReader resolves the subscription plan of a user. An empty plan falls
// back to the policy default.
type PlanReader interface {
	PlanForUser(ctx context.Context, userID string) (string, error)
}

// PlanReaderFunc adapts a function to PlanReader.
type PlanReaderFunc func(ctx context.Context, userID string) (string, error)

func (fn PlanReaderFunc) PlanForUser(ctx context.Context, userID string) (string, error) {
	return fn(ctx, userID)
}

// PlanPolicy maps subscription plans to connection limits.
type PlanPolicy struct {
	reader       PlanReader
	plans        map[string]int
	defaultLimit int
}

func NewPlanPolicy(reader PlanReader, plans map[string]int, defaultLimit int) (*PlanPolicy, error) {
	if reader == nil {
		return nil, fmt.Errorf("limits: plan reader is required")
	}
	if defaultLimit < 0 {
		return nil, fmt.Errorf("limits: default limit must not be negative")
	}
	normalized := make(map[string]int, len(plans))
	for plan, limit := range plans {
		if limit < 0 {
			return nil, fmt.Errorf("limits: plan %s has a negative limit", plan)
		}
		normalized[strings.ToLower(strings.TrimSpace(plan))] = limit
	}
	return &PlanPolicy{reader: reader, plans: normalized, defaultLimit: defaultLimit}, nil
}

// NewPlanPolicyFromConfig builds a PlanPolicy from the limits section.
func NewPlanPolicyFromConfig(reader PlanReader, cfg core.LimitsConfig) (*PlanPolicy, error) {
	return NewPlanPolicy(reader, cfg.Plans, cfg.DefaultMaxConnections)
}

func (p *PlanPolicy) MaxConnections(ctx context.Context, userID string) (int, error) {
	if p == nil || p.reader == nil {
		return 0, fmt.Errorf("limits: plan policy is not configured")
	}
	plan, err := p.reader.PlanForUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return 0, fmt.Errorf("limits: resolve plan: %w", err)
	}
	if limit, ok := p.plans[strings.ToLower(strings.TrimSpace(plan))]; ok {
		return limit, nil
	}
	return p.defaultLimit, nil
}

// CachedPolicy memoizes another policy per user.
type CachedPolicy struct {
	base  core.ConnectionLimitPolicy
	cache repositorycache.CacheService
}

func NewCachedPolicy(base core.ConnectionLimitPolicy, cacheService repositorycache.CacheService) (*CachedPolicy, error) {
	if base == nil {
		return nil, fmt.Errorf("limits: base policy is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("limits: cache service is required")
	}
	return &CachedPolicy{base: base, cache: cacheService}, nil
}

// NewCacheService returns an in-process cache with the given ttl.
func NewCacheService(cfg core.LimitsConfig) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl := (core.Config{Limits: cfg}).LimitsCacheTTL(); ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

// CacheKey returns adconnect::limits::v1::<user_id> with the user id path
// escaped.
func CacheKey(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("limits: user id is required")
	}
	return limitCacheKeyPrefix + "::" + url.PathEscape(userID), nil
}

func (p *CachedPolicy) MaxConnections(ctx context.Context, userID string) (int, error) {
	if p == nil || p.base == nil || p.cache == nil {
		return 0, fmt.Errorf("limits: cached policy is not configured")
	}
	key, err := CacheKey(userID)
	if err != nil {
		return 0, err
	}
	return repositorycache.GetOrFetch(ctx, p.cache, key, func(ctx context.Context) (int, error) {
		return p.base.MaxConnections(ctx, strings.TrimSpace(userID))
	})
}

// Invalidate drops the cached limit, e.g. after a plan change.
func (p *CachedPolicy) Invalidate(ctx context.Context, userID string) error {
	if p == nil || p.cache == nil {
		return fmt.Errorf("limits: cached policy is not configured")
	}
	key, err := CacheKey(userID)
	if err != nil {
		return err
	}
	return p.cache.Delete(ctx, key)
}

var (
	_ core.ConnectionLimitPolicy = StaticPolicy{}
	_ core.ConnectionLimitPolicy = (*PlanPolicy)(nil)
	_ core.ConnectionLimitPolicy = (*CachedPolicy)(nil)
)
