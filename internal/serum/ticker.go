package serum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclob/serum-gateway/internal/config"
	"github.com/openclob/serum-gateway/pkg/executor"
)

const (
	tickerSourceAggregator = "aggregator"
	tickerSourceLastFill   = "lastFill"
)

// fillSource supplies recent fills for the lastFill ticker source.
type fillSource interface {
	RecentFills(ctx context.Context, marketName string, limit int) ([]Fill, error)
}

// TickerResolver resolves the last traded price of a market by trying each
// configured source in priority order. A source failure is logged and
// swallowed so a flaky source cannot block resolution while a fallback
// exists.
type TickerResolver struct {
	cfg      config.TickersConfig
	retry    executor.RetryPolicy
	registry *Registry
	fills    fillSource
	http     *resty.Client
	log      *zap.Logger
}

// NewTickerResolver builds a resolver over the registry and fill source.
func NewTickerResolver(cfg config.TickersConfig, retry executor.RetryPolicy, registry *Registry, fills fillSource, log *zap.Logger) *TickerResolver {
	return &TickerResolver{
		cfg:      cfg,
		retry:    retry,
		registry: registry,
		fills:    fills,
		http:     resty.New().SetTimeout(retry.Timeout),
		log:      log,
	}
}

type aggregatorResponse struct {
	Items []struct {
		Price         decimal.Decimal `json:"price"`
		LastUpdatedAt time.Time       `json:"last_updated_at"`
	} `json:"items"`
}

// GetTicker returns the market's last traded price from the first source
// that yields one, or a TickerNotFoundError when every source is exhausted.
func (r *TickerResolver) GetTicker(ctx context.Context, marketName string) (*Ticker, error) {
	market, err := r.registry.GetMarket(ctx, marketName)
	if err != nil {
		return nil, err
	}

	for _, source := range r.cfg.Sources {
		var ticker *Ticker
		var sourceErr error

		switch source {
		case tickerSourceAggregator:
			ticker, sourceErr = r.fromAggregator(ctx, market)
		case tickerSourceLastFill:
			ticker, sourceErr = r.fromLastFill(ctx, market)
		default:
			sourceErr = fmt.Errorf("ticker source %q not supported, check the serum configuration", source)
		}

		if sourceErr != nil {
			r.log.Debug("ticker source failed",
				zap.String("market", marketName),
				zap.String("source", source),
				zap.Error(sourceErr))
			continue
		}
		return ticker, nil
	}

	return nil, &TickerNotFoundError{MarketName: marketName}
}

// GetTickers resolves several markets, dropping the ones without ticker
// data rather than failing the whole call.
func (r *TickerResolver) GetTickers(ctx context.Context, batch executor.BatchPolicy, marketNames []string) (map[string]*Ticker, error) {
	type result struct {
		name   string
		ticker *Ticker
	}
	results, err := executor.All(ctx, batch, marketNames, func(ctx context.Context, name string) (result, error) {
		ticker, err := r.GetTicker(ctx, name)
		if err != nil {
			var notFound *TickerNotFoundError
			if errors.As(err, &notFound) {
				return result{name: name}, nil
			}
			return result{}, err
		}
		return result{name: name, ticker: ticker}, nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Ticker, len(results))
	for _, res := range results {
		if res.ticker != nil {
			out[res.name] = res.ticker
		}
	}
	return out, nil
}

func (r *TickerResolver) fromAggregator(ctx context.Context, market *Market) (*Ticker, error) {
	tickerAddress := market.Address
	if market.TickerAddress != "" {
		tickerAddress = market.TickerAddress
	}
	url := strings.ReplaceAll(r.cfg.URL, "${marketAddress}", tickerAddress)

	body, err := executor.Run(ctx, "fetch ticker "+market.Name, r.retry, func(ctx context.Context) (*aggregatorResponse, error) {
		var body aggregatorResponse
		resp, err := r.http.R().SetContext(ctx).SetResult(&body).Get(url)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("ticker fetch returned %s", resp.Status())
		}
		return &body, nil
	})
	if err != nil {
		return nil, err
	}
	if len(body.Items) == 0 {
		return nil, fmt.Errorf("aggregator returned no items for %q", market.Name)
	}

	item := body.Items[0]
	timestamp := item.LastUpdatedAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	return &Ticker{
		MarketName: market.Name,
		Price:      item.Price,
		Timestamp:  timestamp,
		Source:     tickerSourceAggregator,
	}, nil
}

func (r *TickerResolver) fromLastFill(ctx context.Context, market *Market) (*Ticker, error) {
	fills, err := r.fills.RecentFills(ctx, market.Name, 1)
	if err != nil {
		return nil, err
	}
	if len(fills) == 0 {
		return nil, fmt.Errorf("no recent fills for %q", market.Name)
	}
	return &Ticker{
		MarketName: market.Name,
		Price:      fills[0].Price,
		Timestamp:  fills[0].Timestamp,
		Source:     tickerSourceLastFill,
	}, nil
}
