// Package api exposes the gateway's REST surface over gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/openclob/serum-gateway/internal/config"
	"github.com/openclob/serum-gateway/internal/serum"
)

// Connector is the connector surface the handlers consume. *serum.Serum
// satisfies it.
type Connector interface {
	Ready() bool
	GetAllMarkets(ctx context.Context) (map[string]*serum.Market, error)
	GetMarkets(ctx context.Context, names []string) (map[string]*serum.Market, error)
	GetOrderBook(ctx context.Context, marketName string) (*serum.OrderBook, error)
	GetTickers(ctx context.Context, marketNames []string) (map[string]*serum.Ticker, error)
	GetOrder(ctx context.Context, req serum.GetOrderRequest) (*serum.Order, error)
	GetOrders(ctx context.Context, req serum.GetOrderRequest) ([]*serum.Order, error)
	GetFills(ctx context.Context, req serum.GetFillsRequest) ([]serum.Fill, error)
	CreateOrders(ctx context.Context, requests []serum.CreateOrderRequest) ([]*serum.Order, error)
	CancelOrders(ctx context.Context, requests []serum.CancelOrderRequest) ([]*serum.Order, error)
	SettleFundsForMarkets(ctx context.Context, marketNames []string, ownerAddress string) (map[string][]string, error)
}

// ChainStatus is the chain-level status surface behind GET /status.
type ChainStatus interface {
	Network() string
	CurrentBlockNumber(ctx context.Context) (uint64, error)
}

// Server is the HTTP front of the gateway.
type Server struct {
	router    *gin.Engine
	log       *zap.Logger
	cfg       config.ServerConfig
	connector Connector
	chain     ChainStatus
	validate  *validator.Validate
}

// NewServer builds the router with its middleware chain and routes.
func NewServer(cfg config.ServerConfig, connector Connector, chain ChainStatus, log *zap.Logger) (*Server, error) {
	validate := validator.New()
	if err := validate.RegisterValidation("base58", validBase58); err != nil {
		return nil, err
	}

	s := &Server{
		log:       log,
		cfg:       cfg,
		connector: connector,
		chain:     chain,
		validate:  validate,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))

	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	throttle := ginlimiter.NewMiddleware(limiter.New(memory.NewStore(), rate))

	s.router = router
	s.registerRoutes(throttle)
	return s, nil
}

// Router exposes the gin engine for tests and the composition root.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) registerRoutes(throttle gin.HandlerFunc) {
	s.router.GET("/health", s.health)
	s.router.GET("/ready", s.ready)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/metrics", gin.WrapH(promhttp.Handler()))
		v1.GET("/status", s.status)
		v1.GET("/markets", s.getMarkets)
		v1.GET("/ticker", s.getTickers)
		v1.GET("/orderbook", s.getOrderBook)
		v1.GET("/orders", s.getOrders)
		v1.GET("/fills", s.getFills)

		mutating := v1.Group("", throttle)
		mutating.POST("/create", s.createOrders)
		mutating.POST("/cancel", s.cancelOrders)
		mutating.POST("/settle", s.settleFunds)
	}
}

// Run serves until the context is canceled, then drains within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// validBase58 accepts 32-byte base58 strings, the shape of every on-chain
// address.
func validBase58(fl validator.FieldLevel) bool {
	raw, err := base58.Decode(fl.Field().String())
	return err == nil && len(raw) == 32
}
