package solana

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TokenInfo is one entry of the token registry.
type TokenInfo struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"address"`
	Decimals int    `json:"decimals"`
}

type tokenListResponse struct {
	Tokens []TokenInfo `json:"tokens"`
}

// TokenRegistry resolves symbols to mints from the published token list,
// with a bundled fallback covering the common tokens.
type TokenRegistry struct {
	http *resty.Client
	url  string
	log  *zap.Logger

	mu       sync.Mutex
	bySymbol map[string]TokenInfo
}

// NewTokenRegistry builds an unloaded registry; call Load before lookups.
func NewTokenRegistry(url string, timeout time.Duration, log *zap.Logger) *TokenRegistry {
	return &TokenRegistry{
		http: resty.New().SetTimeout(timeout),
		url:  url,
		log:  log,
	}
}

// Load fetches the token list, falling back to the bundled set when the
// published list is unreachable.
func (r *TokenRegistry) Load(ctx context.Context) error {
	tokens := staticTokenList()

	if r.url != "" {
		var body tokenListResponse
		resp, err := r.http.R().SetContext(ctx).SetResult(&body).Get(r.url)
		switch {
		case err != nil:
			r.log.Warn("token list fetch failed, using bundled list", zap.Error(err))
		case resp.IsError():
			r.log.Warn("token list fetch failed, using bundled list", zap.String("status", resp.Status()))
		case len(body.Tokens) > 0:
			tokens = body.Tokens
		}
	}

	bySymbol := make(map[string]TokenInfo, len(tokens))
	for _, token := range tokens {
		key := strings.ToUpper(token.Symbol)
		if _, dup := bySymbol[key]; !dup {
			bySymbol[key] = token
		}
	}

	r.mu.Lock()
	r.bySymbol = bySymbol
	r.mu.Unlock()
	return nil
}

// Get resolves a symbol, case-insensitively.
func (r *TokenRegistry) Get(symbol string) (TokenInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bySymbol == nil {
		return TokenInfo{}, fmt.Errorf("token registry not loaded")
	}
	token, ok := r.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return TokenInfo{}, fmt.Errorf("unknown token symbol %q", symbol)
	}
	return token, nil
}

func staticTokenList() []TokenInfo {
	return []TokenInfo{
		{Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9},
		{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		{Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
		{Symbol: "SRM", Mint: "SRMuApVNdxXokk5GT7XD5cUUgXMBCoAz2LHeuAoKWRt", Decimals: 6},
		{Symbol: "BTC", Mint: "9n4nbM75f5Ui33ZbPYXn59EwSgE8CGsHtAeTH5YFeJ9E", Decimals: 6},
		{Symbol: "ETH", Mint: "2FPyTwcZLUg1MDrwsyoP4D6s1tM7hAkHYRjkNb5w6Pxk", Decimals: 6},
	}
}
