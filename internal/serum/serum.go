package serum

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/openclob/serum-gateway/internal/config"
	"github.com/openclob/serum-gateway/pkg/executor"
)

// Serum is the connector facade: one instance per (chain, network), owning
// the market registry, the lifecycle engine and the ticker resolver behind a
// single initialization lifecycle.
type Serum struct {
	chain   string
	network string

	provider ChainProvider
	registry *Registry
	engine   *Engine
	ticker   *TickerResolver
	batch    executor.BatchPolicy
	log      *zap.Logger

	mu          sync.Mutex
	initialized bool
}

// NewSerum wires the connector from its collaborators. Init must be called
// before any operation.
func NewSerum(chain string, cfg *config.Config, provider ChainProvider, loader MarketLoader, log *zap.Logger) *Serum {
	retry := cfg.Solana.RetryPolicy()
	batch := cfg.Solana.BatchPolicy()

	registry := NewRegistry(cfg.Serum, retry, batch, loader, log)
	history := NewHistoryClient(cfg.Serum.Fills, log)
	engine := NewEngine(cfg.Serum, retry, batch, registry, provider, history, log)
	ticker := NewTickerResolver(cfg.Serum.Tickers, retry, registry, engine, log)

	return &Serum{
		chain:    chain,
		network:  provider.Network(),
		provider: provider,
		registry: registry,
		engine:   engine,
		ticker:   ticker,
		batch:    batch,
		log:      log,
	}
}

// Chain returns the chain this connector serves.
func (s *Serum) Chain() string { return s.chain }

// Network returns the network this connector serves.
func (s *Serum) Network() string { return s.network }

// Init loads the market registry. It is idempotent and safe under
// concurrent callers: the second caller waits for and shares the first
// load. It fails when the chain provider is not ready.
func (s *Serum) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if !s.provider.Ready() {
		return fmt.Errorf("chain provider for network %q is not ready", s.network)
	}

	if _, err := s.registry.GetAllMarkets(ctx); err != nil {
		return fmt.Errorf("initial market load failed: %w", err)
	}

	s.initialized = true
	s.log.Info("serum connector initialized",
		zap.String("chain", s.chain),
		zap.String("network", s.network))
	return nil
}

// Ready reports whether Init has completed.
func (s *Serum) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Serum) GetAllMarkets(ctx context.Context) (map[string]*Market, error) {
	return s.registry.GetAllMarkets(ctx)
}

func (s *Serum) GetMarket(ctx context.Context, name string) (*Market, error) {
	return s.registry.GetMarket(ctx, name)
}

func (s *Serum) GetMarkets(ctx context.Context, names []string) (map[string]*Market, error) {
	return s.registry.GetMarkets(ctx, names)
}

func (s *Serum) GetOrderBook(ctx context.Context, marketName string) (*OrderBook, error) {
	return s.engine.GetOrderBook(ctx, marketName)
}

func (s *Serum) GetTicker(ctx context.Context, marketName string) (*Ticker, error) {
	return s.ticker.GetTicker(ctx, marketName)
}

func (s *Serum) GetTickers(ctx context.Context, marketNames []string) (map[string]*Ticker, error) {
	return s.ticker.GetTickers(ctx, s.batch, marketNames)
}

func (s *Serum) GetOrder(ctx context.Context, req GetOrderRequest) (*Order, error) {
	return s.engine.GetOrder(ctx, req)
}

func (s *Serum) GetOrders(ctx context.Context, req GetOrderRequest) ([]*Order, error) {
	return s.engine.GetOrders(ctx, req)
}

func (s *Serum) GetOpenOrders(ctx context.Context, ownerAddress string, marketNames []string) ([]*Order, error) {
	return s.engine.GetOpenOrders(ctx, ownerAddress, marketNames)
}

func (s *Serum) GetFills(ctx context.Context, req GetFillsRequest) ([]Fill, error) {
	return s.engine.GetFills(ctx, req)
}

func (s *Serum) CreateOrders(ctx context.Context, requests []CreateOrderRequest) ([]*Order, error) {
	return s.engine.CreateOrders(ctx, requests)
}

func (s *Serum) CancelOrders(ctx context.Context, requests []CancelOrderRequest) ([]*Order, error) {
	return s.engine.CancelOrders(ctx, requests)
}

func (s *Serum) SettleFundsForMarket(ctx context.Context, marketName, ownerAddress string) ([]string, error) {
	return s.engine.SettleFundsForMarket(ctx, marketName, ownerAddress)
}

func (s *Serum) SettleFundsForMarkets(ctx context.Context, marketNames []string, ownerAddress string) (map[string][]string, error) {
	return s.engine.SettleFundsForMarkets(ctx, marketNames, ownerAddress)
}

// Factory hands out one connector per (chain, network) pair, constructed on
// first use and memoized for the process lifetime. It is owned by the
// composition root; nothing else holds process-wide connector state.
type Factory struct {
	build func(chain, network string) (*Serum, error)

	mu        sync.Mutex
	instances map[string]*Serum
}

// NewFactory builds a factory around the given constructor.
func NewFactory(build func(chain, network string) (*Serum, error)) *Factory {
	return &Factory{
		build:     build,
		instances: make(map[string]*Serum),
	}
}

// Get returns the connector for (chain, network), constructing it once.
func (f *Factory) Get(chain, network string) (*Serum, error) {
	key := chain + ":" + network

	f.mu.Lock()
	defer f.mu.Unlock()

	if instance, ok := f.instances[key]; ok {
		return instance, nil
	}
	instance, err := f.build(chain, network)
	if err != nil {
		return nil, err
	}
	f.instances[key] = instance
	return instance, nil
}
