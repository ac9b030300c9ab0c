package serum

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openclob/serum-gateway/internal/config"
	"github.com/openclob/serum-gateway/pkg/executor"
	"github.com/openclob/serum-gateway/pkg/metrics"
)

// Engine orchestrates order creation, cancellation and fund settlement
// across markets and owners. Logical operations for the same (market, owner)
// pair are merged into shared physical transactions when configured, subject
// to a hard per-transaction operation limit.
type Engine struct {
	cfg      config.SerumConfig
	retry    executor.RetryPolicy
	batch    executor.BatchPolicy
	registry *Registry
	chain    ChainProvider
	history  *HistoryClient
	log      *zap.Logger

	// Token accounts are immutable once created, so resolved wallets are
	// cached for the process lifetime and never evicted.
	walletMu sync.Mutex
	wallets  map[string]string
}

// NewEngine builds the lifecycle engine.
func NewEngine(cfg config.SerumConfig, retry executor.RetryPolicy, batch executor.BatchPolicy, registry *Registry, chain ChainProvider, history *HistoryClient, log *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		retry:    retry,
		batch:    batch,
		registry: registry,
		chain:    chain,
		history:  history,
		log:      log,
		wallets:  make(map[string]string),
	}
}

// submit runs one physical transaction submission with the retry policy.
// The venue's ambiguity marker is converted to ErrAmbiguousOutcome at this
// boundary and never retried, since the transaction may already have landed.
func (e *Engine) submit(ctx context.Context, name string, fn func(context.Context) (string, error)) (string, error) {
	return executor.Run(ctx, name, e.retry, func(ctx context.Context) (string, error) {
		sig, err := fn(ctx)
		if err != nil {
			err = ClassifyRemoteError(err)
			if errors.Is(err, ErrAmbiguousOutcome) {
				metrics.AmbiguousOutcomes.WithLabelValues(name).Inc()
				return "", executor.Permanent(err)
			}
			return "", err
		}
		return sig, nil
	})
}

// group collects the per-(market, owner) work of one create or cancel call.
// Owners are keyed by resolved public address string: the signer type has no
// value equality.
type group[T any] struct {
	market *Market
	owner  Signer
	items  []T
}

func groupKey(marketName, ownerAddress string) string {
	return marketName + "|" + ownerAddress
}

// randomClientID derives a venue-compatible numeric client id from a v4
// uuid for candidates that did not supply one.
func randomClientID() string {
	u := uuid.New()
	return strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 10)
}

type createItem struct {
	request   CreateOrderRequest
	candidate OrderCandidate
	order     *Order
}

// CreateOrders places the candidate orders, grouping them by (market, owner)
// so same-market orders can share physical transactions. Ambiguous outcomes
// degrade the whole affected group to CREATION_PENDING without aborting
// sibling groups; definite errors abort the call.
func (e *Engine) CreateOrders(ctx context.Context, requests []CreateOrderRequest) ([]*Order, error) {
	groups := make(map[string]*group[createItem])
	keys := make([]string, 0, len(requests))
	orders := make([]*Order, 0, len(requests))

	for _, req := range requests {
		market, err := e.registry.GetMarket(ctx, req.MarketName)
		if err != nil {
			return nil, err
		}
		owner, err := e.chain.GetKeypair(req.OwnerAddress)
		if err != nil {
			return nil, err
		}
		if req.ID == "" {
			req.ID = randomClientID()
		}

		payer := req.PayerAddress
		if payer == "" {
			payer, err = e.resolvePayer(ctx, market, owner, req.Side)
			if err != nil {
				return nil, err
			}
		}

		candidate, err := candidateFromRequest(req, payer)
		if err != nil {
			return nil, err
		}

		order := &Order{
			ID:           req.ID,
			MarketName:   market.Name,
			OwnerAddress: owner.PublicKey(),
			Side:         req.Side,
			Price:        req.Price,
			Amount:       req.Amount,
			Type:         req.Type,
		}
		orders = append(orders, order)

		key := groupKey(market.Name, owner.PublicKey())
		g, ok := groups[key]
		if !ok {
			g = &group[createItem]{market: market, owner: owner}
			groups[key] = g
			keys = append(keys, key)
		}
		g.items = append(g.items, createItem{request: req, candidate: candidate, order: order})
	}

	for _, key := range keys {
		if err := e.createGroup(ctx, groups[key]); err != nil {
			return nil, err
		}
	}

	for _, req := range requests {
		metrics.OrdersCreated.WithLabelValues(strings.ToLower(string(req.Side))).Inc()
	}
	return orders, nil
}

func (e *Engine) createGroup(ctx context.Context, g *group[createItem]) error {
	replaceAll := true
	for _, item := range g.items {
		replaceAll = replaceAll && item.request.ReplaceIfExists
	}

	markPending := func() {
		for _, item := range g.items {
			item.order.Status = OrderStatusCreationPending
			item.order.Signatures.DropCreation()
		}
	}

	submitChunk := func(chunk []OrderCandidate, replace bool) (string, error) {
		if len(chunk) > e.cfg.Orders.CreateMaxPerTransaction {
			return "", fmt.Errorf("refusing to submit %d orders in one transaction (limit %d)",
				len(chunk), e.cfg.Orders.CreateMaxPerTransaction)
		}
		name := "create orders " + g.market.Name
		if replace {
			name = "replace orders " + g.market.Name
			return e.submit(ctx, name, func(ctx context.Context) (string, error) {
				return g.market.API.ReplaceOrders(ctx, g.owner, chunk)
			})
		}
		return e.submit(ctx, name, func(ctx context.Context) (string, error) {
			return g.market.API.PlaceOrders(ctx, g.owner, chunk)
		})
	}

	var chunks [][]createItem
	replace := false
	switch {
	case replaceAll:
		// duplicate suppression: one replace call for the whole group
		chunks = [][]createItem{g.items}
		replace = true
	case e.cfg.Transactions.MergeCreateOrders:
		chunks = executor.Chunks(g.items, e.cfg.Orders.CreateMaxPerTransaction)
	default:
		chunks = executor.Chunks(g.items, 1)
	}

	for _, chunk := range chunks {
		chunkCandidates := make([]OrderCandidate, len(chunk))
		for i, item := range chunk {
			chunkCandidates[i] = item.candidate
		}

		sig, err := submitChunk(chunkCandidates, replace)
		if err != nil {
			if errors.Is(err, ErrAmbiguousOutcome) {
				e.log.Warn("order creation outcome unknown, marking group pending",
					zap.String("market", g.market.Name),
					zap.String("owner", g.owner.PublicKey()))
				markPending()
				return nil
			}
			return err
		}
		for _, item := range chunk {
			item.order.Status = OrderStatusOpen
			item.order.Signatures.AppendCreation(sig)
		}
	}
	return nil
}

type cancelItem struct {
	order      *Order
	venueOrder VenueOrder
}

// CancelOrders cancels every open order matching the given filters, then
// settles freed funds once per (market, owner) group.
func (e *Engine) CancelOrders(ctx context.Context, requests []CancelOrderRequest) ([]*Order, error) {
	groups := make(map[string]*group[cancelItem])
	keys := make([]string, 0, len(requests))
	var orders []*Order

	for _, req := range requests {
		market, err := e.registry.GetMarket(ctx, req.MarketName)
		if err != nil {
			return nil, err
		}
		owner, err := e.chain.GetKeypair(req.OwnerAddress)
		if err != nil {
			return nil, err
		}

		venueOrders, err := executor.Run(ctx, "load open orders "+market.Name, e.retry, func(ctx context.Context) ([]VenueOrder, error) {
			return market.API.LoadOrdersForOwner(ctx, owner.PublicKey())
		})
		if err != nil {
			return nil, err
		}

		key := groupKey(market.Name, owner.PublicKey())
		g, ok := groups[key]
		if !ok {
			g = &group[cancelItem]{market: market, owner: owner}
			groups[key] = g
			keys = append(keys, key)
		}

		for _, v := range venueOrders {
			if req.ID != "" && v.ClientID != req.ID {
				continue
			}
			if req.ExchangeID != "" && v.ExchangeID != req.ExchangeID {
				continue
			}
			order, err := orderFromVenue(v, market, owner.PublicKey())
			if err != nil {
				return nil, err
			}
			orders = append(orders, order)
			g.items = append(g.items, cancelItem{order: order, venueOrder: v})
		}
	}

	for _, key := range keys {
		if err := e.cancelGroup(ctx, groups[key]); err != nil {
			return nil, err
		}
	}

	for range orders {
		metrics.OrdersCanceled.Inc()
	}
	return orders, nil
}

func (e *Engine) cancelGroup(ctx context.Context, g *group[cancelItem]) error {
	if len(g.items) == 0 {
		return nil
	}

	markPending := func() {
		for _, item := range g.items {
			item.order.Status = OrderStatusCancelationPending
			item.order.Signatures.DropCancellation()
		}
	}

	markCanceled := func(items []cancelItem, sig string) {
		for _, item := range items {
			item.order.Status = OrderStatusCanceled
			item.order.Signatures.AppendCancellation(sig)
		}
	}

	settle := func() error {
		sigs, err := e.settleForOwner(ctx, g.market, g.owner)
		if err != nil {
			return err
		}
		for _, item := range g.items {
			item.order.Signatures.AppendSettlement(sigs...)
		}
		return nil
	}

	if e.cfg.Transactions.MergeCancelOrders {
		chunks := executor.Chunks(g.items, e.cfg.Orders.CancelMaxPerTransaction)
		sigs, err := executor.All(ctx, e.batch, chunks, func(ctx context.Context, chunk []cancelItem) (string, error) {
			venueOrders := make([]VenueOrder, len(chunk))
			for i, item := range chunk {
				venueOrders[i] = item.venueOrder
			}
			return e.submit(ctx, "cancel orders "+g.market.Name, func(ctx context.Context) (string, error) {
				return g.market.API.CancelOrders(ctx, g.owner, venueOrders)
			})
		})
		if err != nil {
			if errors.Is(err, ErrAmbiguousOutcome) {
				markPending()
				return nil
			}
			return err
		}
		for i, chunk := range chunks {
			markCanceled(chunk, sigs[i])
		}
		return settle()
	}

	for _, item := range g.items {
		sig, err := e.submit(ctx, "cancel order "+g.market.Name, func(ctx context.Context) (string, error) {
			return g.market.API.CancelOrders(ctx, g.owner, []VenueOrder{item.venueOrder})
		})
		if err != nil {
			if errors.Is(err, ErrAmbiguousOutcome) {
				item.order.Status = OrderStatusCancelationPending
				item.order.Signatures.DropCancellation()
				continue
			}
			return err
		}
		markCanceled([]cancelItem{item}, sig)
		if err := settle(); err != nil {
			return err
		}
	}
	return nil
}

// SettleFundsForMarket settles every open-orders account of the owner on the
// market that holds a nonzero free balance. The returned signatures are
// empty when nothing needed settling.
func (e *Engine) SettleFundsForMarket(ctx context.Context, marketName, ownerAddress string) ([]string, error) {
	market, err := e.registry.GetMarket(ctx, marketName)
	if err != nil {
		return nil, err
	}
	owner, err := e.chain.GetKeypair(ownerAddress)
	if err != nil {
		return nil, err
	}
	sigs, err := e.settleForOwner(ctx, market, owner)
	if err == nil {
		metrics.SettlementsTriggered.Inc()
	}
	return sigs, err
}

// SettleFundsForMarkets runs settlement across several markets for one
// owner, bounded by the batch scheduler.
func (e *Engine) SettleFundsForMarkets(ctx context.Context, marketNames []string, ownerAddress string) (map[string][]string, error) {
	results, err := executor.All(ctx, e.batch, marketNames, func(ctx context.Context, name string) ([]string, error) {
		return e.SettleFundsForMarket(ctx, name, ownerAddress)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(marketNames))
	for i, name := range marketNames {
		out[name] = results[i]
	}
	return out, nil
}

// settleForOwner settles per owner: one settle call per open-orders account
// with free balance. Ambiguous outcomes always surface as
// FundsSettlementError; unsettled funds are never silently left pending.
func (e *Engine) settleForOwner(ctx context.Context, market *Market, owner Signer) ([]string, error) {
	accounts, err := executor.Run(ctx, "find open orders accounts "+market.Name, e.retry, func(ctx context.Context) ([]OpenOrdersAccount, error) {
		return market.API.FindOpenOrdersAccounts(ctx, owner.PublicKey())
	})
	if err != nil {
		return nil, err
	}

	var sigs []string
	for _, account := range accounts {
		if !account.HasFreeBalance() {
			continue
		}

		baseWallet, err := e.tokenWallet(ctx, market, owner, market.BaseSymbol)
		if err != nil {
			return nil, err
		}
		quoteWallet, err := e.tokenWallet(ctx, market, owner, market.QuoteSymbol)
		if err != nil {
			return nil, err
		}

		account := account
		sig, err := e.submit(ctx, "settle funds "+market.Name, func(ctx context.Context) (string, error) {
			return market.API.SettleFunds(ctx, owner, account, baseWallet, quoteWallet)
		})
		if err != nil {
			if errors.Is(err, ErrAmbiguousOutcome) {
				return nil, &FundsSettlementError{MarketName: market.Name, Owner: owner.PublicKey(), Cause: err}
			}
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// resolvePayer picks the token wallet funding an order: quote for buys,
// base for sells.
func (e *Engine) resolvePayer(ctx context.Context, market *Market, owner Signer, side Side) (string, error) {
	switch side {
	case SideBuy:
		return e.tokenWallet(ctx, market, owner, market.QuoteSymbol)
	case SideSell:
		return e.tokenWallet(ctx, market, owner, market.BaseSymbol)
	default:
		return "", fmt.Errorf("unknown order side %q", side)
	}
}

func (e *Engine) tokenWallet(ctx context.Context, market *Market, owner Signer, symbol string) (string, error) {
	token, err := e.chain.GetTokenForSymbol(symbol)
	if err != nil {
		return "", err
	}

	key := owner.PublicKey() + "|" + token.Mint
	e.walletMu.Lock()
	wallet, ok := e.wallets[key]
	e.walletMu.Unlock()
	if ok {
		return wallet, nil
	}

	wallet, err = executor.Run(ctx, "resolve token account "+symbol, e.retry, func(ctx context.Context) (string, error) {
		return e.chain.GetOrCreateAssociatedTokenAccount(ctx, owner, token.Mint)
	})
	if err != nil {
		return "", err
	}

	e.walletMu.Lock()
	e.wallets[key] = wallet
	e.walletMu.Unlock()
	return wallet, nil
}

// GetOpenOrders returns the owner's resting orders on the given markets, or
// on every market when none are named.
func (e *Engine) GetOpenOrders(ctx context.Context, ownerAddress string, marketNames []string) ([]*Order, error) {
	markets, err := e.resolveMarkets(ctx, marketNames)
	if err != nil {
		return nil, err
	}

	perMarket, err := executor.All(ctx, e.batch, markets, func(ctx context.Context, market *Market) ([]*Order, error) {
		venueOrders, err := executor.Run(ctx, "load open orders "+market.Name, e.retry, func(ctx context.Context) ([]VenueOrder, error) {
			return market.API.LoadOrdersForOwner(ctx, ownerAddress)
		})
		if err != nil {
			return nil, err
		}
		orders := make([]*Order, 0, len(venueOrders))
		for _, v := range venueOrders {
			order, err := orderFromVenue(v, market, ownerAddress)
			if err != nil {
				return nil, err
			}
			orders = append(orders, order)
		}
		return orders, nil
	})
	if err != nil {
		return nil, err
	}

	var out []*Order
	for _, orders := range perMarket {
		out = append(out, orders...)
	}
	return out, nil
}

// GetFills returns merged on-chain and off-chain fills for the given
// markets, newest first, trimmed to the request limit (or the configured
// default).
func (e *Engine) GetFills(ctx context.Context, req GetFillsRequest) ([]Fill, error) {
	markets, err := e.resolveMarkets(ctx, req.MarketNames)
	if err != nil {
		return nil, err
	}

	perMarket, err := executor.All(ctx, e.batch, markets, func(ctx context.Context, market *Market) ([]Fill, error) {
		venueFills, err := executor.Run(ctx, "load fills "+market.Name, e.retry, func(ctx context.Context) ([]VenueFill, error) {
			return market.API.LoadRecentFills(ctx)
		})
		if err != nil {
			return nil, err
		}
		fills := make([]Fill, 0, len(venueFills))
		for _, v := range venueFills {
			fill, err := fillFromVenue(v, market.Name)
			if err != nil {
				return nil, err
			}
			fills = append(fills, fill)
		}
		return fills, nil
	})
	if err != nil {
		return nil, err
	}

	var onChain []Fill
	for _, fills := range perMarket {
		onChain = append(onChain, fills...)
	}

	var offChain []Fill
	if req.Account != "" {
		historical, err := e.history.GetFills(ctx, req.Account)
		if err != nil {
			// the indexer is best-effort; on-chain data stands alone
			e.log.Warn("fill history fetch failed", zap.Error(err))
		} else {
			wanted := make(map[string]struct{}, len(markets))
			for _, market := range markets {
				wanted[market.Name] = struct{}{}
			}
			for _, fill := range historical {
				if _, ok := wanted[fill.MarketName]; ok {
					offChain = append(offChain, fill)
				}
			}
		}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.Orders.FilledLimit
	}
	return MergeFills(onChain, offChain, limit), nil
}

// GetOrder looks an order up by client id or exchange id. The named market
// is checked first when given; otherwise every market is scanned. An order
// both open and historically filled reports OPEN: it can rest on the book
// for the remaining quantity while having partial fills.
func (e *Engine) GetOrder(ctx context.Context, req GetOrderRequest) (*Order, error) {
	if req.ID == "" && req.ExchangeID == "" {
		return nil, fmt.Errorf("either id or exchangeOrderId is required")
	}

	var marketNames []string
	if req.MarketName != "" {
		marketNames = []string{req.MarketName}
	}

	open, err := e.GetOpenOrders(ctx, req.OwnerAddress, marketNames)
	if err != nil {
		return nil, err
	}
	for _, order := range open {
		if matchesOrder(order, req) {
			return order, nil
		}
	}

	fills, err := e.GetFills(ctx, GetFillsRequest{MarketNames: marketNames, Account: req.OwnerAddress})
	if err != nil {
		return nil, err
	}
	for _, fill := range fills {
		if req.ExchangeID != "" && fill.ExchangeID == req.ExchangeID {
			return orderFromFill(fill, req.OwnerAddress), nil
		}
	}

	return nil, &OrderNotFoundError{ID: req.ID, ExchangeID: req.ExchangeID, MarketName: req.MarketName, Owner: req.OwnerAddress}
}

// GetOrders returns every order (open and filled) matching the filters.
func (e *Engine) GetOrders(ctx context.Context, req GetOrderRequest) ([]*Order, error) {
	var marketNames []string
	if req.MarketName != "" {
		marketNames = []string{req.MarketName}
	}

	open, err := e.GetOpenOrders(ctx, req.OwnerAddress, marketNames)
	if err != nil {
		return nil, err
	}

	var out []*Order
	openIDs := make(map[string]struct{})
	for _, order := range open {
		if matchesOrder(order, req) {
			out = append(out, order)
			if order.ExchangeID != "" {
				openIDs[order.ExchangeID] = struct{}{}
			}
		}
	}

	fills, err := e.GetFills(ctx, GetFillsRequest{MarketNames: marketNames, Account: req.OwnerAddress})
	if err != nil {
		return nil, err
	}
	for _, fill := range fills {
		if req.ID != "" {
			continue
		}
		if req.ExchangeID != "" && fill.ExchangeID != req.ExchangeID {
			continue
		}
		if _, isOpen := openIDs[fill.ExchangeID]; isOpen {
			continue
		}
		out = append(out, orderFromFill(fill, req.OwnerAddress))
	}

	if len(out) == 0 {
		return nil, &OrderNotFoundError{ID: req.ID, ExchangeID: req.ExchangeID, MarketName: req.MarketName, Owner: req.OwnerAddress}
	}
	return out, nil
}

// GetOrderBook returns a point-in-time bids/asks snapshot for one market.
func (e *Engine) GetOrderBook(ctx context.Context, marketName string) (*OrderBook, error) {
	market, err := e.registry.GetMarket(ctx, marketName)
	if err != nil {
		return nil, err
	}

	bids, err := executor.Run(ctx, "load bids "+market.Name, e.retry, func(ctx context.Context) ([]PriceLevel, error) {
		return market.API.LoadBids(ctx)
	})
	if err != nil {
		return nil, err
	}
	asks, err := executor.Run(ctx, "load asks "+market.Name, e.retry, func(ctx context.Context) ([]PriceLevel, error) {
		return market.API.LoadAsks(ctx)
	})
	if err != nil {
		return nil, err
	}

	return &OrderBook{
		MarketName: market.Name,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// RecentFills feeds the lastFill ticker source.
func (e *Engine) RecentFills(ctx context.Context, marketName string, limit int) ([]Fill, error) {
	return e.GetFills(ctx, GetFillsRequest{MarketNames: []string{marketName}, Limit: limit})
}

func (e *Engine) resolveMarkets(ctx context.Context, names []string) ([]*Market, error) {
	if len(names) == 0 {
		all, err := e.registry.GetAllMarkets(ctx)
		if err != nil {
			return nil, err
		}
		markets := make([]*Market, 0, len(all))
		for _, market := range all {
			markets = append(markets, market)
		}
		return markets, nil
	}

	byName, err := e.registry.GetMarkets(ctx, names)
	if err != nil {
		return nil, err
	}
	markets := make([]*Market, 0, len(names))
	for _, name := range names {
		markets = append(markets, byName[name])
	}
	return markets, nil
}

func matchesOrder(order *Order, req GetOrderRequest) bool {
	if req.ID != "" && order.ID != req.ID {
		return false
	}
	if req.ExchangeID != "" && order.ExchangeID != req.ExchangeID {
		return false
	}
	return true
}
