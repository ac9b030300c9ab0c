package serum

import (
	"errors"
	"fmt"
	"strings"
)

// ambiguousOutcomeMarker is the venue SDK's message for a submitted
// transaction whose fate cannot be determined from the response.
const ambiguousOutcomeMarker = "It is unknown if it succeeded or failed."

// ErrAmbiguousOutcome tags a remote failure whose transaction may or may not
// have landed. It must never be retried: the operation could apply twice.
var ErrAmbiguousOutcome = errors.New("transaction outcome is unknown")

// ClassifyRemoteError converts the venue's textual ambiguity marker into the
// typed ErrAmbiguousOutcome at the remote-call boundary. Any other error
// passes through unchanged and is treated as definite.
func ClassifyRemoteError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), ambiguousOutcomeMarker) {
		return fmt.Errorf("%w: %s", ErrAmbiguousOutcome, err.Error())
	}
	return err
}

// MarketNotFoundError reports a market name unresolvable after a fresh
// registry load.
type MarketNotFoundError struct {
	Name string
}

func (e *MarketNotFoundError) Error() string {
	return fmt.Sprintf("market %q not found", e.Name)
}

// OrderNotFoundError reports that no order matched the given filters.
type OrderNotFoundError struct {
	ID         string
	ExchangeID string
	MarketName string
	Owner      string
}

func (e *OrderNotFoundError) Error() string {
	parts := make([]string, 0, 4)
	if e.ID != "" {
		parts = append(parts, "id="+e.ID)
	}
	if e.ExchangeID != "" {
		parts = append(parts, "exchangeId="+e.ExchangeID)
	}
	if e.MarketName != "" {
		parts = append(parts, "market="+e.MarketName)
	}
	if e.Owner != "" {
		parts = append(parts, "owner="+e.Owner)
	}
	return fmt.Sprintf("order not found (%s)", strings.Join(parts, " "))
}

// TickerNotFoundError reports that every configured price source failed.
type TickerNotFoundError struct {
	MarketName string
}

func (e *TickerNotFoundError) Error() string {
	return fmt.Sprintf("ticker data is currently not available for market %q", e.MarketName)
}

// FundsSettlementError reports an ambiguous settlement outcome. Unsettled
// funds are real economic exposure, so this is always surfaced and never
// downgraded to a pending order status.
type FundsSettlementError struct {
	MarketName string
	Owner      string
	Cause      error
}

func (e *FundsSettlementError) Error() string {
	return fmt.Sprintf("funds settlement outcome unknown for market %q owner %q: %v", e.MarketName, e.Owner, e.Cause)
}

func (e *FundsSettlementError) Unwrap() error { return e.Cause }
