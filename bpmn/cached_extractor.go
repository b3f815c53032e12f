package bpmn

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-connectors/core"
)

const correlationPointsCacheKeyPrefix = "go-connectors::correlation_points::v1"

// CachedExtractor memoizes extraction per deployed definition. A definition
// key never changes content, so entries are only dropped by the cache TTL.
type CachedExtractor struct {
	base  core.CorrelationPointExtractor
	cache repositorycache.CacheService
}

func NewCachedExtractor(base core.CorrelationPointExtractor, cacheService repositorycache.CacheService) (*CachedExtractor, error) {
	if base == nil {
		return nil, fmt.Errorf("bpmn: base extractor is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("bpmn: cache service is required")
	}
	return &CachedExtractor{base: base, cache: cacheService}, nil
}

// CorrelationPointsCacheKey returns
// go-connectors::correlation_points::v1::<tenant>::<process>::<version>::<definition_key>
// with each segment URL-path escaped.
func CorrelationPointsCacheKey(ref core.ProcessDefinitionRef) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	segments := []string{
		url.PathEscape(ref.TenantID),
		url.PathEscape(ref.ProcessID),
		strconv.Itoa(ref.Version),
		strconv.FormatInt(ref.DefinitionKey, 10),
	}
	return strings.Join(append([]string{correlationPointsCacheKeyPrefix}, segments...), "::"), nil
}

func (e *CachedExtractor) Extract(ctx context.Context, ref core.ProcessDefinitionRef) ([]core.PointConfig, error) {
	if e == nil || e.base == nil || e.cache == nil {
		return nil, fmt.Errorf("bpmn: cached extractor is not configured")
	}
	cacheKey, err := CorrelationPointsCacheKey(ref)
	if err != nil {
		return nil, err
	}
	points, err := repositorycache.GetOrFetch(ctx, e.cache, cacheKey, func(ctx context.Context) ([]core.PointConfig, error) {
		fetched, fetchErr := e.base.Extract(ctx, ref)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return clonePoints(fetched), nil
	})
	if err != nil {
		return nil, err
	}
	return clonePoints(points), nil
}

func clonePoints(points []core.PointConfig) []core.PointConfig {
	if points == nil {
		return nil
	}
	out := make([]core.PointConfig, len(points))
	for index, point := range points {
		out[index] = core.PointConfig{Point: point.Point, Config: point.Config.Clone()}
	}
	return out
}

var _ core.CorrelationPointExtractor = (*CachedExtractor)(nil)
