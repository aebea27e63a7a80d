package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowbatch/autopilot/params"
	"github.com/cowbatch/autopilot/pkg/clock"
	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/driver"
	"github.com/cowbatch/autopilot/pkg/driverapi"
	"github.com/cowbatch/autopilot/pkg/ethrpc"
	"github.com/cowbatch/autopilot/pkg/log"
	"github.com/cowbatch/autopilot/pkg/mempool"
	"github.com/cowbatch/autopilot/pkg/priceestimation"
	"github.com/cowbatch/autopilot/pkg/solverclient"
)

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		panic(err)
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/driver.log"
	}
	zapLogger, err := log.NewWithFile(logFile)
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	name := os.Getenv("DRIVER_NAME")
	if name == "" {
		name = "driver"
	}
	address := common.HexToAddress(os.Getenv("DRIVER_ADDRESS"))

	solverURL := os.Getenv("SOLVER_URL")
	if solverURL == "" {
		logger.Fatalw("SOLVER_URL not set")
	}
	solver := solverclient.New(solverURL, cfg.SolveDeadline)

	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		logger.Fatalw("RPC_URL not set")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ethClient, err := ethrpc.Dial(ctx, rpcURL)
	if err != nil {
		logger.Fatalw("failed to dial RPC endpoint", "err", err)
	}
	defer ethClient.Close()

	submitters := make([]*mempool.Submitter, 0, len(cfg.Mempools))
	for _, mc := range cfg.Mempools {
		submitters = append(submitters, mempool.NewSubmitter(ethClient, mc, cfg.RevertProtection(), cfg.GasPriceCap, cfg.NetworkBlockInterval, clock.RealClock{}, logger))
	}
	multiplexer, err := mempool.NewMultiplexer(submitters, logger)
	if err != nil {
		logger.Fatalw("failed to build mempool multiplexer", "err", err)
	}

	budgets := clock.DefaultBudgets()
	drv := driver.New(name, address, solver, nil, ethClient, multiplexer, clock.RealClock{}, budgets, logger)

	oracleURL := os.Getenv("PRICE_ORACLE_URL")
	var oracle priceestimation.NativePriceOracle
	if oracleURL != "" {
		oracle = priceestimation.NewHTTPOracle(oracleURL, 5*time.Second)
	} else {
		logger.Warnw("PRICE_ORACLE_URL not set, native prices will always be unavailable")
		oracle = unpricedOracle{}
	}

	cowAmmOwners := parseAddressSet(os.Getenv("COW_AMM_OWNERS"))

	server := driverapi.NewServer(drv, cowAmmOwners, oracle, ethClient, cfg.SubmissionDeadlineBlocks, logger)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}
	go func() {
		logger.Infow("driver listening", "name", name, "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("http server failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func parseAddressSet(raw string) map[common.Address]bool {
	out := make(map[common.Address]bool)
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[common.HexToAddress(s)] = true
	}
	return out
}

// unpricedOracle reports every token as unpriced, used when no price-feed
// service is configured so a driver can still start (trading simply stalls
// until one is).
type unpricedOracle struct{}

func (unpricedOracle) NativePrice(ctx context.Context, token common.Address) (domain.Price, error) {
	return domain.Price{}, errNoOracleConfigured
}

var errNoOracleConfigured = errors.New("driver: no price oracle configured")
