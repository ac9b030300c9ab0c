package serum

import (
	"fmt"
)

const (
	venueSideBuy  = "buy"
	venueSideSell = "sell"

	venueTypeLimit    = "limit"
	venueTypeIOC      = "ioc"
	venueTypePostOnly = "postOnly"
)

// SideToVenue translates the gateway order side to the venue vocabulary.
func SideToVenue(side Side) (string, error) {
	switch side {
	case SideBuy:
		return venueSideBuy, nil
	case SideSell:
		return venueSideSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", side)
	}
}

// SideFromVenue translates a venue order side back to the gateway's.
func SideFromVenue(side string) (Side, error) {
	switch side {
	case venueSideBuy:
		return SideBuy, nil
	case venueSideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown venue side %q", side)
	}
}

// TypeToVenue translates the gateway order type to the venue vocabulary.
func TypeToVenue(orderType OrderType) (string, error) {
	switch orderType {
	case OrderTypeLimit:
		return venueTypeLimit, nil
	case OrderTypeIOC:
		return venueTypeIOC, nil
	case OrderTypePostOnly:
		return venueTypePostOnly, nil
	default:
		return "", fmt.Errorf("unknown order type %q", orderType)
	}
}

// TypeFromVenue translates a venue order type back to the gateway's.
func TypeFromVenue(orderType string) (OrderType, error) {
	switch orderType {
	case venueTypeLimit:
		return OrderTypeLimit, nil
	case venueTypeIOC:
		return OrderTypeIOC, nil
	case venueTypePostOnly:
		return OrderTypePostOnly, nil
	default:
		return "", fmt.Errorf("unknown venue order type %q", orderType)
	}
}

// candidateFromRequest converts a create-order request into the venue-native
// candidate form. The payer token wallet must already be resolved.
func candidateFromRequest(req CreateOrderRequest, payer string) (OrderCandidate, error) {
	side, err := SideToVenue(req.Side)
	if err != nil {
		return OrderCandidate{}, err
	}
	orderType, err := TypeToVenue(req.Type)
	if err != nil {
		return OrderCandidate{}, err
	}
	return OrderCandidate{
		ClientID: req.ID,
		Side:     side,
		Type:     orderType,
		Price:    req.Price,
		Size:     req.Amount,
		Payer:    payer,
	}, nil
}

// requestFromCandidate reverses candidateFromRequest; used to verify that
// translation preserves side, price and size.
func requestFromCandidate(c OrderCandidate, marketName, owner string) (CreateOrderRequest, error) {
	side, err := SideFromVenue(c.Side)
	if err != nil {
		return CreateOrderRequest{}, err
	}
	orderType, err := TypeFromVenue(c.Type)
	if err != nil {
		return CreateOrderRequest{}, err
	}
	return CreateOrderRequest{
		ID:           c.ClientID,
		MarketName:   marketName,
		OwnerAddress: owner,
		PayerAddress: c.Payer,
		Side:         side,
		Price:        c.Price,
		Amount:       c.Size,
		Type:         orderType,
	}, nil
}

// orderFromVenue converts a venue open-order record into the gateway shape.
// Resting orders are OPEN by definition.
func orderFromVenue(v VenueOrder, market *Market, owner string) (*Order, error) {
	side, err := SideFromVenue(v.Side)
	if err != nil {
		return nil, err
	}
	return &Order{
		ID:           v.ClientID,
		ExchangeID:   v.ExchangeID,
		MarketName:   market.Name,
		OwnerAddress: owner,
		Side:         side,
		Price:        v.Price,
		Amount:       v.Size,
		Type:         OrderTypeLimit,
		Status:       OrderStatusOpen,
	}, nil
}

// orderFromFill converts a fill into a FILLED order record.
func orderFromFill(f Fill, owner string) *Order {
	return &Order{
		ExchangeID:   f.ExchangeID,
		MarketName:   f.MarketName,
		OwnerAddress: owner,
		Side:         f.Side,
		Price:        f.Price,
		Amount:       f.Amount,
		Status:       OrderStatusFilled,
		FillTime:     f.Timestamp,
	}
}

// fillFromVenue converts a venue fill event into the gateway shape.
func fillFromVenue(v VenueFill, marketName string) (Fill, error) {
	side, err := SideFromVenue(v.Side)
	if err != nil {
		return Fill{}, err
	}
	return Fill{
		ExchangeID: v.ExchangeID,
		SeqNum:     v.SeqNum,
		MarketName: marketName,
		Side:       side,
		Price:      v.Price,
		Amount:     v.Size,
		FeeCost:    v.FeeCost,
		Timestamp:  v.Timestamp,
	}, nil
}
