package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"swapsettle/config"
	"swapsettle/core/events"
	"swapsettle/core/types"
	"swapsettle/executor"
	"swapsettle/ledger"
	"swapsettle/observability/logging"
	"swapsettle/rpc"
	"swapsettle/settle"
	"swapsettle/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("swapsettled", cfg.Env)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	l := ledger.New()
	for _, seed := range cfg.SeedBalances() {
		if seed.Amount.Sign() == 0 {
			continue
		}
		if err := l.Mint(seed.Asset, seed.Address, seed.Amount); err != nil {
			logger.Error("Failed to seed balance",
				slog.String("asset", seed.Asset.String()),
				slog.String("address", seed.Address.Hex()),
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}

	policyStore, err := settle.NewPolicyStore(cfg.Owner(), cfg.SettlementPolicy())
	if err != nil {
		logger.Error("Invalid settlement policy", slog.Any("error", err))
		os.Exit(1)
	}
	engine, err := settle.NewEngine(l, policyStore, cfg.Custody())
	if err != nil {
		logger.Error("Failed to build settlement engine", slog.Any("error", err))
		os.Exit(1)
	}

	records, err := storage.NewSettlementStore(db)
	if err != nil {
		logger.Error("Failed to open settlement store", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetRecordStore(records)
	engine.SetNonce(records.Sequence())
	engine.SetEmitter(&logEmitter{logger: logger})

	dispatcher := executor.NewDispatcher(deriveAddress("swapsettle/dispatcher"), l)
	if err := engine.RegisterExecutor("dispatcher", dispatcher); err != nil {
		logger.Error("Failed to register dispatcher", slog.Any("error", err))
		os.Exit(1)
	}

	secret := cfg.JWTSecret()
	if len(secret) == 0 {
		logger.Warn("No JWT secret configured; privileged RPC methods are disabled",
			slog.String("env_var", cfg.JWTSecretEnv))
	}

	rpcServer := rpc.NewServer(engine, policyStore, records, secret, logger)
	server := &http.Server{
		Addr:         cfg.RPCAddress,
		Handler:      rpcServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		logger.Error("Failed to listen", slog.String("address", cfg.RPCAddress), slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		logger.Info("JSON-RPC server listening", slog.String("address", listener.Addr().String()))
		if serveErr := server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("RPC server failed", slog.Any("error", serveErr))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", slog.Any("error", err))
	}
}

// logEmitter bridges engine events into the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (e *logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{slog.String("event", evt.EventType())}
	if wired, ok := evt.(interface{ Event() *types.Event }); ok {
		for key, value := range wired.Event().Attributes {
			attrs = append(attrs, slog.String(key, value))
		}
	}
	e.logger.Info("settlement event", attrs...)
}

// deriveAddress produces a stable internal account address from a label.
func deriveAddress(label string) common.Address {
	hash := ethcrypto.Keccak256([]byte(label))
	return common.BytesToAddress(hash[12:])
}
