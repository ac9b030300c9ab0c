package serumdex

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openclob/serum-gateway/internal/serum"
	"github.com/openclob/serum-gateway/internal/solana"
)

// Loader resolves market descriptors into live markets backed by the DEX
// program. It implements serum.MarketLoader.
type Loader struct {
	rpc       *solana.RPCClient
	chain     serum.ChainProvider
	programID string
}

// NewLoader builds a loader over the shared RPC connection. programID is
// the default DEX program for descriptors that do not carry their own.
func NewLoader(rpc *solana.RPCClient, chain serum.ChainProvider, programID string) *Loader {
	return &Loader{rpc: rpc, chain: chain, programID: programID}
}

// LoadMarket fetches and decodes the market account, wiring a venue handle
// into the returned market.
func (l *Loader) LoadMarket(ctx context.Context, d serum.MarketDescriptor) (*serum.Market, error) {
	info, err := l.rpc.GetAccountInfo(ctx, d.Address)
	if err != nil {
		return nil, fmt.Errorf("loading market %s: %w", d.Name, err)
	}
	state, err := decodeMarketState(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding market %s: %w", d.Name, err)
	}

	base, quote := serum.SplitMarketName(d.Name)
	baseToken, err := l.chain.GetTokenForSymbol(base)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", d.Name, err)
	}
	quoteToken, err := l.chain.GetTokenForSymbol(quote)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", d.Name, err)
	}

	programID := d.ProgramID
	if programID == "" {
		programID = l.programID
	}

	conv := newLotConverter(state, baseToken.Decimals, quoteToken.Decimals)
	handle := &marketHandle{
		rpc:       l.rpc,
		programID: programID,
		address:   d.Address,
		state:     state,
		conv:      conv,
	}

	return &serum.Market{
		Name:             d.Name,
		Address:          d.Address,
		ProgramID:        programID,
		BaseSymbol:       base,
		QuoteSymbol:      quote,
		MinimumOrderSize: conv.sizeFromLots(1),
		TickSize:         conv.priceFromLots(1),
		TickerAddress:    d.TickerAddress,
		API:              handle,
	}, nil
}

// marketHandle implements serum.MarketAPI for one market.
type marketHandle struct {
	rpc       *solana.RPCClient
	programID string
	address   string
	state     *marketState
	conv      lotConverter
}

func (h *marketHandle) loadSlab(ctx context.Context, address string) ([]slabOrder, error) {
	info, err := h.rpc.GetAccountInfo(ctx, address)
	if err != nil {
		return nil, err
	}
	return decodeSlab(info.Data)
}

func (h *marketHandle) levels(orders []slabOrder, descending bool) []serum.PriceLevel {
	byPrice := make(map[uint64]decimal.Decimal)
	prices := make([]uint64, 0, len(orders))
	for _, order := range orders {
		if _, seen := byPrice[order.PriceLots]; !seen {
			prices = append(prices, order.PriceLots)
		}
		byPrice[order.PriceLots] = byPrice[order.PriceLots].Add(h.conv.sizeFromLots(order.SizeLots))
	}
	sort.Slice(prices, func(i, j int) bool {
		if descending {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})

	levels := make([]serum.PriceLevel, 0, len(prices))
	for _, price := range prices {
		levels = append(levels, serum.PriceLevel{
			Price: h.conv.priceFromLots(price),
			Size:  byPrice[price],
		})
	}
	return levels
}

func (h *marketHandle) LoadBids(ctx context.Context) ([]serum.PriceLevel, error) {
	orders, err := h.loadSlab(ctx, h.state.Bids)
	if err != nil {
		return nil, err
	}
	return h.levels(orders, true), nil
}

func (h *marketHandle) LoadAsks(ctx context.Context) ([]serum.PriceLevel, error) {
	orders, err := h.loadSlab(ctx, h.state.Asks)
	if err != nil {
		return nil, err
	}
	return h.levels(orders, false), nil
}

func (h *marketHandle) LoadOrdersForOwner(ctx context.Context, owner string) ([]serum.VenueOrder, error) {
	accounts, err := h.FindOpenOrdersAccounts(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	mine := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		mine[account.Address] = struct{}{}
	}

	var out []serum.VenueOrder
	for _, side := range []struct {
		address string
		name    string
	}{
		{h.state.Bids, "buy"},
		{h.state.Asks, "sell"},
	} {
		orders, err := h.loadSlab(ctx, side.address)
		if err != nil {
			return nil, err
		}
		for _, order := range orders {
			if _, ok := mine[order.OpenOrders]; !ok {
				continue
			}
			clientID := ""
			if order.ClientID != 0 {
				clientID = strconv.FormatUint(order.ClientID, 10)
			}
			out = append(out, serum.VenueOrder{
				ExchangeID:        order.OrderID.String(),
				ClientID:          clientID,
				OpenOrdersAddress: order.OpenOrders,
				Side:              side.name,
				Price:             h.conv.priceFromLots(order.PriceLots),
				Size:              h.conv.sizeFromLots(order.SizeLots),
			})
		}
	}
	return out, nil
}

func (h *marketHandle) LoadRecentFills(ctx context.Context) ([]serum.VenueFill, error) {
	info, err := h.rpc.GetAccountInfo(ctx, h.state.EventQueue)
	if err != nil {
		return nil, err
	}
	events, err := decodeEventQueue(info.Data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fills := make([]serum.VenueFill, 0, len(events))
	for _, event := range events {
		var baseNative, quoteNative uint64
		side := "sell"
		if event.Bid {
			side = "buy"
			baseNative = event.NativeQtyOut
			quoteNative = event.NativeQtyIn
		} else {
			baseNative = event.NativeQtyIn
			quoteNative = event.NativeQtyOut
		}
		if baseNative == 0 {
			continue
		}

		size := h.conv.baseFromNative(baseNative)
		price := h.conv.quoteFromNative(quoteNative).Div(size)
		fills = append(fills, serum.VenueFill{
			ExchangeID: event.OrderID.String(),
			SeqNum:     event.SeqNum,
			Side:       side,
			Price:      price,
			Size:       size,
			FeeCost:    h.conv.quoteFromNative(event.NativeFee),
			Timestamp:  now,
		})
	}
	return fills, nil
}

func (h *marketHandle) FindOpenOrdersAccounts(ctx context.Context, owner string) ([]serum.OpenOrdersAccount, error) {
	filters := []solana.MemcmpFilter{
		{Offset: openOrdersMarketOffset, Bytes: h.address},
		{Offset: openOrdersOwnerOffset, Bytes: owner},
	}
	accounts, err := h.rpc.GetProgramAccounts(ctx, h.programID, filters)
	if err != nil {
		return nil, err
	}

	out := make([]serum.OpenOrdersAccount, 0, len(accounts))
	for _, account := range accounts {
		state, err := decodeOpenOrders(account.Data)
		if err != nil {
			return nil, fmt.Errorf("decoding open orders %s: %w", account.Pubkey, err)
		}
		out = append(out, serum.OpenOrdersAccount{
			Address:        account.Pubkey,
			Owner:          state.Owner,
			BaseTokenFree:  h.conv.baseFromNative(state.BaseTokenFree),
			QuoteTokenFree: h.conv.quoteFromNative(state.QuoteTokenFree),
		})
	}
	return out, nil
}

// ensureOpenOrders finds the owner's open-orders account or prepares the
// instructions creating one within the enclosing transaction.
func (h *marketHandle) ensureOpenOrders(ctx context.Context, owner serum.Signer) (string, []solana.Signer, []solana.Instruction, error) {
	accounts, err := h.FindOpenOrdersAccounts(ctx, owner.PublicKey())
	if err != nil {
		return "", nil, nil, err
	}
	if len(accounts) > 0 {
		return accounts[0].Address, nil, nil, nil
	}

	fresh, err := solana.NewRandomKeypair()
	if err != nil {
		return "", nil, nil, err
	}
	rent, err := h.rpc.GetMinimumBalanceForRentExemption(ctx, openOrdersAccountSize)
	if err != nil {
		return "", nil, nil, err
	}

	ins := solana.CreateAccountInstruction(owner.PublicKey(), fresh.PublicKey(), rent, openOrdersAccountSize, h.programID)
	return fresh.PublicKey(), []solana.Signer{fresh}, []solana.Instruction{ins}, nil
}

func (h *marketHandle) submit(ctx context.Context, owner serum.Signer, extraSigners []solana.Signer, instructions []solana.Instruction) (string, error) {
	blockhash, err := h.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", err
	}
	signers := append([]solana.Signer{owner}, extraSigners...)
	signed, err := solana.BuildTransaction(blockhash, owner, signers, instructions)
	if err != nil {
		return "", err
	}
	return h.rpc.SendTransaction(ctx, signed)
}

func (h *marketHandle) PlaceOrders(ctx context.Context, owner serum.Signer, candidates []serum.OrderCandidate) (string, error) {
	return h.placeOrders(ctx, owner, candidates, false)
}

func (h *marketHandle) ReplaceOrders(ctx context.Context, owner serum.Signer, candidates []serum.OrderCandidate) (string, error) {
	return h.placeOrders(ctx, owner, candidates, true)
}

func (h *marketHandle) placeOrders(ctx context.Context, owner serum.Signer, candidates []serum.OrderCandidate, replace bool) (string, error) {
	openOrders, extraSigners, instructions, err := h.ensureOpenOrders(ctx, owner)
	if err != nil {
		return "", err
	}

	for _, candidate := range candidates {
		side, err := sideTag(candidate.Side)
		if err != nil {
			return "", err
		}
		orderType, err := orderTypeTag(candidate.Type)
		if err != nil {
			return "", err
		}

		clientID := clientIDToUint(candidate.ClientID)
		if replace && clientID != 0 {
			instructions = append(instructions,
				cancelByClientIDInstruction(h.programID, h.address, h.state, openOrders, owner.PublicKey(), clientID))
		}

		priceLots := h.conv.priceToLots(candidate.Price)
		sizeLots := h.conv.sizeToLots(candidate.Size)
		if priceLots == 0 || sizeLots == 0 {
			return "", fmt.Errorf("order price %s size %s below market lot sizes",
				candidate.Price.String(), candidate.Size.String())
		}
		maxQuoteLots := priceLots * sizeLots * h.state.QuoteLotSize

		instructions = append(instructions, newOrderV3Instruction(
			h.programID, h.address, h.state, openOrders, candidate.Payer, owner.PublicKey(),
			side, orderType, priceLots, sizeLots, maxQuoteLots, clientID))
	}

	return h.submit(ctx, owner, extraSigners, instructions)
}

func (h *marketHandle) CancelOrders(ctx context.Context, owner serum.Signer, orders []serum.VenueOrder) (string, error) {
	instructions := make([]solana.Instruction, 0, len(orders))
	for _, order := range orders {
		side, err := sideTag(order.Side)
		if err != nil {
			return "", err
		}
		orderID, ok := new(big.Int).SetString(order.ExchangeID, 10)
		if !ok {
			return "", fmt.Errorf("invalid exchange order id %q", order.ExchangeID)
		}
		instructions = append(instructions,
			cancelOrderV2Instruction(h.programID, h.address, h.state, order.OpenOrdersAddress, owner.PublicKey(), side, orderID))
	}
	return h.submit(ctx, owner, nil, instructions)
}

func (h *marketHandle) SettleFunds(ctx context.Context, owner serum.Signer, account serum.OpenOrdersAccount, baseWallet, quoteWallet string) (string, error) {
	vaultSigner, err := vaultSignerAddress(h.address, h.programID, h.state.VaultSignerNonce)
	if err != nil {
		return "", err
	}
	ins := settleFundsInstruction(h.programID, h.address, h.state, account.Address, owner.PublicKey(), baseWallet, quoteWallet, vaultSigner)
	return h.submit(ctx, owner, nil, []solana.Instruction{ins})
}

// clientIDToUint maps a client id string onto the u64 the program stores.
// Numeric ids pass through; anything else is hashed.
func clientIDToUint(id string) uint64 {
	if id == "" {
		return 0
	}
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return n
	}
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}
