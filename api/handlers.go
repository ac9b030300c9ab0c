package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openclob/serum-gateway/internal/serum"
	"github.com/openclob/serum-gateway/pkg/errors"
)

type createOrderPayload struct {
	ID              string          `json:"id"`
	MarketName      string          `json:"marketName" validate:"required"`
	OwnerAddress    string          `json:"ownerAddress" validate:"required,base58"`
	PayerAddress    string          `json:"payerAddress" validate:"omitempty,base58"`
	Side            string          `json:"side" validate:"required,oneof=BUY SELL"`
	Price           decimal.Decimal `json:"price"`
	Amount          decimal.Decimal `json:"amount"`
	Type            string          `json:"type" validate:"omitempty,oneof=LIMIT IOC POST_ONLY"`
	ReplaceIfExists bool            `json:"replaceIfExists"`
}

type createOrdersRequest struct {
	Orders []createOrderPayload `json:"orders" validate:"required,min=1,dive"`
}

type cancelOrderPayload struct {
	ID           string `json:"id"`
	ExchangeID   string `json:"exchangeOrderId"`
	MarketName   string `json:"marketName" validate:"required"`
	OwnerAddress string `json:"ownerAddress" validate:"required,base58"`
}

type cancelOrdersRequest struct {
	Orders []cancelOrderPayload `json:"orders" validate:"required,min=1,dive"`
}

type settleFundsRequest struct {
	MarketNames  []string `json:"marketNames" validate:"required,min=1"`
	OwnerAddress string   `json:"ownerAddress" validate:"required,base58"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ready(c *gin.Context) {
	if !s.connector.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "initializing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) status(c *gin.Context) {
	block, err := s.chain.CurrentBlockNumber(c.Request.Context())
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"network":            s.chain.Network(),
		"currentBlockNumber": block,
		"ready":              s.connector.Ready(),
		"timestamp":          time.Now().UTC(),
	})
}

func (s *Server) getMarkets(c *gin.Context) {
	names := c.QueryArray("marketNames")

	var markets map[string]*serum.Market
	var err error
	if len(names) == 0 {
		markets, err = s.connector.GetAllMarkets(c.Request.Context())
	} else {
		markets, err = s.connector.GetMarkets(c.Request.Context(), names)
	}
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, markets)
}

func (s *Server) getTickers(c *gin.Context) {
	names := c.QueryArray("marketNames")
	if len(names) == 0 {
		markets, err := s.connector.GetAllMarkets(c.Request.Context())
		if err != nil {
			s.abort(c, err)
			return
		}
		for name := range markets {
			names = append(names, name)
		}
	}

	tickers, err := s.connector.GetTickers(c.Request.Context(), names)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, tickers)
}

func (s *Server) getOrderBook(c *gin.Context) {
	marketName := c.Query("marketName")
	if marketName == "" {
		s.abort(c, errors.Invalid.Explain("marketName is required"))
		return
	}

	book, err := s.connector.GetOrderBook(c.Request.Context(), marketName)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (s *Server) getOrders(c *gin.Context) {
	owner := c.Query("address")
	if owner == "" {
		owner = c.Query("ownerAddress")
	}
	if owner == "" {
		s.abort(c, errors.Invalid.Explain("address is required"))
		return
	}

	clientID := c.Query("clientOrderId")
	exchangeID := c.Query("exchangeOrderId")
	marketName := c.Query("marketName")

	if clientID != "" || exchangeID != "" {
		order, err := s.connector.GetOrder(c.Request.Context(), serum.GetOrderRequest{
			ID:           clientID,
			ExchangeID:   exchangeID,
			MarketName:   marketName,
			OwnerAddress: owner,
		})
		if err != nil {
			s.abort(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
		return
	}

	orders, err := s.connector.GetOrders(c.Request.Context(), serum.GetOrderRequest{
		MarketName:   marketName,
		OwnerAddress: owner,
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getFills(c *gin.Context) {
	req := serum.GetFillsRequest{
		MarketNames: c.QueryArray("marketNames"),
		Account:     c.Query("account"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.abort(c, errors.Invalid.Explain("limit must be a non-negative integer"))
			return
		}
		req.Limit = limit
	}

	fills, err := s.connector.GetFills(c.Request.Context(), req)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, fills)
}

func (s *Server) createOrders(c *gin.Context) {
	var body createOrdersRequest
	if !s.bind(c, &body) {
		return
	}

	requests := make([]serum.CreateOrderRequest, 0, len(body.Orders))
	for _, order := range body.Orders {
		if !order.Price.IsPositive() || !order.Amount.IsPositive() {
			s.abort(c, errors.Invalid.Explain("order price and amount must be positive"))
			return
		}
		orderType := serum.OrderType(order.Type)
		if order.Type == "" {
			orderType = serum.OrderTypeLimit
		}
		requests = append(requests, serum.CreateOrderRequest{
			ID:              order.ID,
			MarketName:      order.MarketName,
			OwnerAddress:    order.OwnerAddress,
			PayerAddress:    order.PayerAddress,
			Side:            serum.Side(order.Side),
			Price:           order.Price,
			Amount:          order.Amount,
			Type:            orderType,
			ReplaceIfExists: order.ReplaceIfExists,
		})
	}

	orders, err := s.connector.CreateOrders(c.Request.Context(), requests)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) cancelOrders(c *gin.Context) {
	var body cancelOrdersRequest
	if !s.bind(c, &body) {
		return
	}

	requests := make([]serum.CancelOrderRequest, 0, len(body.Orders))
	for _, order := range body.Orders {
		requests = append(requests, serum.CancelOrderRequest{
			ID:           order.ID,
			ExchangeID:   order.ExchangeID,
			MarketName:   order.MarketName,
			OwnerAddress: order.OwnerAddress,
		})
	}

	orders, err := s.connector.CancelOrders(c.Request.Context(), requests)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) settleFunds(c *gin.Context) {
	var body settleFundsRequest
	if !s.bind(c, &body) {
		return
	}

	signatures, err := s.connector.SettleFundsForMarkets(c.Request.Context(), body.MarketNames, body.OwnerAddress)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, signatures)
}

// bind decodes and validates a JSON body, answering 400 itself on failure.
func (s *Server) bind(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		s.abort(c, errors.Invalid.Reason("MalformedBody").Wrap(err))
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		s.abort(c, errors.Invalid.Reason("ValidationFailed").Explain("%s", err.Error()))
		return false
	}
	return true
}

// abort maps a connector error onto the API error envelope.
func (s *Server) abort(c *gin.Context, err error) {
	var (
		apiErr         *errors.Error
		marketNotFound *serum.MarketNotFoundError
		orderNotFound  *serum.OrderNotFoundError
		tickerNotFound *serum.TickerNotFoundError
		settlement     *serum.FundsSettlementError
	)

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &marketNotFound):
		apiErr = errors.NotFound.Reason("MarketNotFound").Explain("%s", marketNotFound.Error())
	case errors.As(err, &orderNotFound):
		apiErr = errors.NotFound.Reason("OrderNotFound").Explain("%s", orderNotFound.Error())
	case errors.As(err, &tickerNotFound):
		apiErr = errors.NotFound.Reason("TickerNotFound").Explain("%s", tickerNotFound.Error())
	case errors.As(err, &settlement):
		apiErr = errors.BadGateway.Reason("SettlementFailed").Explain("%s", settlement.Error())
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		apiErr = errors.New("internal error")
	}

	c.AbortWithStatusJSON(apiErr.StatusCode(), apiErr)
}
