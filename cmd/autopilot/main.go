package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowbatch/autopilot/params"
	"github.com/cowbatch/autopilot/pkg/arbitrator"
	"github.com/cowbatch/autopilot/pkg/auctionprocessor"
	"github.com/cowbatch/autopilot/pkg/autopilot"
	"github.com/cowbatch/autopilot/pkg/clock"
	"github.com/cowbatch/autopilot/pkg/crypto"
	"github.com/cowbatch/autopilot/pkg/ethrpc"
	"github.com/cowbatch/autopilot/pkg/log"
	"github.com/cowbatch/autopilot/pkg/orderbookclient"
	"github.com/cowbatch/autopilot/pkg/persistence"
)

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		panic(err)
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/autopilot.log"
	}
	zapLogger, err := log.NewWithFile(logFile)
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		logger.Fatalw("RPC_URL not set")
	}
	ethClient, err := ethrpc.Dial(ctx, rpcURL)
	if err != nil {
		logger.Fatalw("failed to dial RPC endpoint", "err", err)
	}
	defer ethClient.Close()

	orderbookURL := os.Getenv("ORDERBOOK_URL")
	if orderbookURL == "" {
		logger.Fatalw("ORDERBOOK_URL not set")
	}
	settlementDomain := crypto.DefaultDomain()
	if addr := os.Getenv("SETTLEMENT_CONTRACT"); addr != "" {
		settlementDomain.VerifyingContract = common.HexToAddress(addr)
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		if n, ok := new(big.Int).SetString(chainID, 10); ok {
			settlementDomain.ChainID = n
		}
	}
	ob := orderbookclient.New(orderbookURL, 10*time.Second, settlementDomain).WithLogger(logger.Warnw)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatalw("DATABASE_URL not set")
	}
	store, err := persistence.Open(databaseURL)
	if err != nil {
		logger.Fatalw("failed to open persistence store", "err", err)
	}
	defer store.Close()

	drivers, err := parseDrivers(os.Getenv("DRIVER_ENDPOINTS"), 15*time.Second)
	if err != nil {
		logger.Fatalw("failed to parse DRIVER_ENDPOINTS", "err", err)
	}
	if len(drivers) == 0 {
		logger.Fatalw("no drivers configured")
	}

	processor := auctionprocessor.New(auctionprocessor.NewEthBalanceFetcher(ethClient), logger)
	arb := arbitrator.New(logger)

	loop := autopilot.New(
		ob,
		processor,
		drivers,
		arb,
		store,
		ethClient,
		clock.RealClock{},
		clock.DefaultBudgets(),
		cfg.SubmissionDeadlineBlocks,
		cfg.AdditionalDeadlineForRewards,
		uint64(cfg.MaxReorgBlockCount),
		logger,
	)

	logger.Infow("autopilot starting", "drivers", len(drivers))
	loop.RunForever(ctx)
	logger.Info("autopilot stopped")
}

// parseDrivers parses DRIVER_ENDPOINTS, a comma-separated list of
// "name=address=url" triples, one per configured driver.
func parseDrivers(raw string, timeout time.Duration) ([]autopilot.NamedDriver, error) {
	var out []autopilot.NamedDriver
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 3)
		if len(parts) != 3 {
			return nil, errInvalidDriverEntry(entry)
		}
		out = append(out, autopilot.NamedDriver{
			Name:    parts[0],
			Address: common.HexToAddress(parts[1]),
			Client:  autopilot.NewDriverClient(parts[2], timeout),
		})
	}
	return out, nil
}

type errInvalidDriverEntry string

func (e errInvalidDriverEntry) Error() string {
	return "invalid DRIVER_ENDPOINTS entry, want name=address=url: " + string(e)
}
