package serum

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/openclob/serum-gateway/internal/config"
	"github.com/openclob/serum-gateway/pkg/executor"
	"github.com/openclob/serum-gateway/pkg/metrics"
)

const (
	marketsCacheKey     = "markets"
	descriptorsCacheKey = "marketsInformation"
)

// Registry loads, filters and caches the set of tradable markets, keyed by
// human-readable name. Lookups after a load are O(1).
type Registry struct {
	cfg    config.SerumConfig
	retry  executor.RetryPolicy
	batch  executor.BatchPolicy
	loader MarketLoader
	http   *resty.Client
	log    *zap.Logger

	markets     *lru.LRU[string, map[string]*Market]
	descriptors *lru.LRU[string, []MarketDescriptor]
	group       singleflight.Group
}

// NewRegistry builds a registry around the given market loader.
func NewRegistry(cfg config.SerumConfig, retry executor.RetryPolicy, batch executor.BatchPolicy, loader MarketLoader, log *zap.Logger) *Registry {
	return &Registry{
		cfg:         cfg,
		retry:       retry,
		batch:       batch,
		loader:      loader,
		http:        resty.New().SetTimeout(retry.Timeout),
		log:         log,
		markets:     lru.NewLRU[string, map[string]*Market](2, nil, cfg.Cache.Markets),
		descriptors: lru.NewLRU[string, []MarketDescriptor](2, nil, cfg.Cache.MarketsInformation),
	}
}

// GetAllMarkets returns the name→Market mapping, loading and caching it on
// first use. Concurrent callers during a load share a single load.
func (r *Registry) GetAllMarkets(ctx context.Context) (map[string]*Market, error) {
	if cached, ok := r.markets.Get(marketsCacheKey); ok {
		return cached, nil
	}

	loaded, err, _ := r.group.Do(marketsCacheKey, func() (interface{}, error) {
		if cached, ok := r.markets.Get(marketsCacheKey); ok {
			return cached, nil
		}
		byName, err := r.load(ctx)
		if err != nil {
			return nil, err
		}
		r.markets.Add(marketsCacheKey, byName)
		return byName, nil
	})
	if err != nil {
		return nil, err
	}
	return loaded.(map[string]*Market), nil
}

// GetMarket returns the named market or a MarketNotFoundError.
func (r *Registry) GetMarket(ctx context.Context, name string) (*Market, error) {
	markets, err := r.GetAllMarkets(ctx)
	if err != nil {
		return nil, err
	}
	market, ok := markets[name]
	if !ok {
		return nil, &MarketNotFoundError{Name: name}
	}
	return market, nil
}

// GetMarkets resolves several names at once, failing on the first unknown.
func (r *Registry) GetMarkets(ctx context.Context, names []string) (map[string]*Market, error) {
	markets, err := r.GetAllMarkets(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Market, len(names))
	for _, name := range names {
		market, ok := markets[name]
		if !ok {
			return nil, &MarketNotFoundError{Name: name}
		}
		out[name] = market
	}
	return out, nil
}

// MarketsInformation returns the filtered basic market descriptors, cached
// separately from the loaded markets.
func (r *Registry) MarketsInformation(ctx context.Context) ([]MarketDescriptor, error) {
	if cached, ok := r.descriptors.Get(descriptorsCacheKey); ok {
		return cached, nil
	}

	descriptors, err := executor.Run(ctx, "fetch markets list", r.retry, func(ctx context.Context) ([]MarketDescriptor, error) {
		var rows []MarketDescriptor
		resp, err := r.http.R().SetContext(ctx).SetResult(&rows).Get(r.cfg.Markets.URL)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("markets list fetch returned %s", resp.Status())
		}
		return rows, nil
	})
	if err != nil {
		// The bundled list keeps the gateway usable when the published list
		// is unreachable.
		r.log.Warn("markets list fetch failed, using bundled list", zap.Error(err))
		metrics.MarketCacheLoads.WithLabelValues("fallback").Inc()
		descriptors = staticMarketList()
	} else {
		metrics.MarketCacheLoads.WithLabelValues("remote").Inc()
	}

	descriptors = r.filter(descriptors)
	r.descriptors.Add(descriptorsCacheKey, descriptors)
	return descriptors, nil
}

func (r *Registry) load(ctx context.Context) (map[string]*Market, error) {
	descriptors, err := r.MarketsInformation(ctx)
	if err != nil {
		return nil, err
	}

	markets, err := executor.All(ctx, r.batch, descriptors, func(ctx context.Context, d MarketDescriptor) (*Market, error) {
		return executor.Run(ctx, "load market "+d.Name, r.retry, func(ctx context.Context) (*Market, error) {
			return r.loader.LoadMarket(ctx, d)
		})
	})
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*Market, len(markets))
	for i, market := range markets {
		if market.TickerAddress == "" {
			market.TickerAddress = descriptors[i].TickerAddress
		}
		byName[market.Name] = market
	}
	r.log.Info("markets loaded", zap.Int("count", len(byName)))
	return byName, nil
}

// filter drops deprecated and blacklisted markets, then applies the
// whitelist as include-only when non-empty.
func (r *Registry) filter(descriptors []MarketDescriptor) []MarketDescriptor {
	out := make([]MarketDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Deprecated {
			continue
		}
		if containsName(r.cfg.Markets.Blacklist, d.Name) {
			continue
		}
		if len(r.cfg.Markets.Whitelist) > 0 && !containsName(r.cfg.Markets.Whitelist, d.Name) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}
