package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/openclob/serum-gateway/api"
	"github.com/openclob/serum-gateway/internal/config"
	"github.com/openclob/serum-gateway/internal/serum"
	"github.com/openclob/serum-gateway/internal/solana"
	"github.com/openclob/serum-gateway/internal/venue/serumdex"
	"github.com/openclob/serum-gateway/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		stdlog.Println("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		stdlog.Fatalf("loading configuration: %v", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		stdlog.Fatalf("creating logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := solana.NewProvider(cfg.Solana, log)
	if err := provider.Init(ctx); err != nil {
		log.Fatal("chain provider initialization failed", zap.Error(err))
	}

	loader := serumdex.NewLoader(provider.RPC(), provider, cfg.Serum.ProgramID)
	factory := serum.NewFactory(func(chain, network string) (*serum.Serum, error) {
		return serum.NewSerum(chain, cfg, provider, loader, log), nil
	})

	connector, err := factory.Get("solana", cfg.Solana.Network)
	if err != nil {
		log.Fatal("building connector", zap.Error(err))
	}
	if err := connector.Init(ctx); err != nil {
		log.Fatal("connector initialization failed", zap.Error(err))
	}

	server, err := api.NewServer(cfg.Server, connector, provider, log)
	if err != nil {
		log.Fatal("building http server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.Run(ctx, addr); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
	log.Info("gateway stopped")
}
