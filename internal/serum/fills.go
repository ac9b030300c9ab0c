package serum

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclob/serum-gateway/internal/config"
)

// HistoryClient reads historical fills from the off-chain event indexing
// service. The service is optional: without a configured URL every query
// returns empty.
type HistoryClient struct {
	http *resty.Client
	url  string
	log  *zap.Logger
}

// NewHistoryClient builds a client for the fill-history service.
func NewHistoryClient(cfg config.FillsConfig, log *zap.Logger) *HistoryClient {
	return &HistoryClient{
		http: resty.New().SetTimeout(cfg.Timeout),
		url:  cfg.HistoryURL,
		log:  log,
	}
}

type historyTradeRow struct {
	OrderID string          `json:"orderId"`
	Market  string          `json:"market"`
	Side    string          `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	FeeCost decimal.Decimal `json:"feeCost"`
	Time    time.Time       `json:"time"`
}

type historyResponse struct {
	Data []historyTradeRow `json:"data"`
}

// GetFills returns the service's fills for one account address, which may be
// an owner address or an open-orders account address.
func (c *HistoryClient) GetFills(ctx context.Context, account string) ([]Fill, error) {
	if c.url == "" {
		return nil, nil
	}

	url := c.url
	if strings.Contains(url, "${account}") {
		url = strings.ReplaceAll(url, "${account}", account)
	} else {
		url = strings.TrimRight(url, "/") + "/" + account
	}

	var body historyResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fill history fetch returned %s", resp.Status())
	}

	fills := make([]Fill, 0, len(body.Data))
	for _, row := range body.Data {
		side, err := SideFromVenue(strings.ToLower(row.Side))
		if err != nil {
			c.log.Debug("skipping fill with unknown side", zap.String("side", row.Side))
			continue
		}
		fills = append(fills, Fill{
			ExchangeID: row.OrderID,
			MarketName: row.Market,
			Side:       side,
			Price:      row.Price,
			Amount:     row.Size,
			FeeCost:    row.FeeCost,
			Timestamp:  row.Time,
		})
	}
	return fills, nil
}

// MergeFills reconciles recent on-chain fills with off-chain history rows.
// Duplicates are detected by exchange order id when present, otherwise by
// sequence number; the on-chain record wins because it is richer. The result
// is newest first and deterministic for fixed inputs; a positive limit trims
// after sorting.
func MergeFills(onChain, offChain []Fill, limit int) []Fill {
	merged := make([]Fill, 0, len(onChain)+len(offChain))
	seen := make(map[string]struct{}, len(onChain))

	add := func(f Fill, dedupe bool) {
		key := fillKey(f)
		if key != "" {
			if _, dup := seen[key]; dup && dedupe {
				return
			}
			seen[key] = struct{}{}
		}
		merged = append(merged, f)
	}

	for _, f := range onChain {
		add(f, false)
	}
	for _, f := range offChain {
		add(f, true)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.After(merged[j].Timestamp)
		}
		return merged[i].SeqNum > merged[j].SeqNum
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func fillKey(f Fill) string {
	if f.ExchangeID != "" {
		return "id:" + f.ExchangeID
	}
	if f.SeqNum != 0 {
		return fmt.Sprintf("seq:%d", f.SeqNum)
	}
	// no usable identity, never deduped
	return ""
}
