// Package driverapi is one driver process's own HTTP surface, the side
// the autopilot calls: POST /solve broadcasts an auction to this driver's
// solver and caches its best settlement; POST /settle tells this driver
// it won and should submit. Follows the familiar gorilla/mux router plus
// rs/cors wrapping and JSON-helper pattern used across this codebase.
package driverapi

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/cowbatch/autopilot/pkg/domain"
	"github.com/cowbatch/autopilot/pkg/driver"
	"github.com/cowbatch/autopilot/pkg/eth"
	"github.com/cowbatch/autopilot/pkg/mempool"
	"github.com/cowbatch/autopilot/pkg/priceestimation"
)

// Server exposes one Driver over HTTP.
type Server struct {
	driver                   *driver.Driver
	cowAmmOwners             map[common.Address]bool
	oracle                   priceestimation.NativePriceOracle
	ethClient                eth.Client
	submissionDeadlineBlocks uint64
	router                   *mux.Router
	logger                   *zap.SugaredLogger
}

// NewServer wires a Server around drv. cowAmmOwners is the static set of
// addresses this deployment recognizes as CoW-AMM owners, consulted by
// Solution.Validate's one-order-per-owner check. oracle supplies the
// native-token prices CIP-38 scoring needs. ethClient and
// submissionDeadlineBlocks let the server estimate how long its cached
// settlement should keep re-simulating while waiting to hear whether it
// won (drv.Watch); ethClient may be nil to disable that background watch
// entirely (e.g. in tests).
func NewServer(drv *driver.Driver, cowAmmOwners map[common.Address]bool, oracle priceestimation.NativePriceOracle, ethClient eth.Client, submissionDeadlineBlocks uint64, logger *zap.SugaredLogger) *Server {
	s := &Server{
		driver:                   drv,
		cowAmmOwners:             cowAmmOwners,
		oracle:                   oracle,
		ethClient:                ethClient,
		submissionDeadlineBlocks: submissionDeadlineBlocks,
		router:                   mux.NewRouter(),
		logger:                   logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/solve", s.handleSolve).Methods("POST")
	s.router.HandleFunc("/settle", s.handleSettle).Methods("POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the fully wrapped http.Handler (router plus CORS), for a
// caller to pass to http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	requestId := uuid.New()

	var req SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	auction := decodeAuction(req)
	nativePrices := s.buildNativePrices(r.Context(), auction)

	solutions, err := s.driver.Solve(r.Context(), req.RequestId, auction, s.cowAmmOwners, nativePrices)
	if err != nil {
		s.logger.Warnw("solve failed", "requestId", requestId, "err", err)
		respondError(w, http.StatusBadGateway, "solve failed", err.Error())
		return
	}

	if len(solutions) > 0 {
		s.watchInBackground()
	}

	respondJSON(w, SolveResponse{
		RequestId: req.RequestId,
		Solutions: encodeSolutions(solutions),
	})
}

// watchInBackground starts re-simulating the newly cached settlement,
// detached from the request context so it keeps running after the HTTP
// response has been sent. It estimates its own submission deadline block
// from the current block plus the configured submission window, the same
// window the autopilot will later use when it tells this driver to settle.
func (s *Server) watchInBackground() {
	if s.ethClient == nil {
		return
	}
	ctx := context.Background()
	current, err := s.ethClient.CurrentBlockNumber(ctx)
	if err != nil {
		s.logger.Warnw("watch: failed to read current block, skipping", "err", err)
		return
	}
	go s.driver.Watch(ctx, current+s.submissionDeadlineBlocks)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	result, err := s.driver.Settle(r.Context(), req.SolutionId, req.AuctionId, req.SubmissionDeadlineBlock)
	if err != nil {
		respondJSON(w, classifyError(err))
		return
	}

	respondJSON(w, SettleResponse{
		Status:           "success",
		TxHash:           result.TxHash.Hex(),
		SubmittedAtBlock: result.SubmittedAtBlock,
		IncludedInBlock:  result.IncludedInBlock,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func classifyError(err error) SettleResponse {
	if errors.Is(err, driver.ErrSolutionMismatch) {
		return SettleResponse{Status: "error", Message: err.Error()}
	}
	switch err.(type) {
	case *mempool.ExpiredError:
		return SettleResponse{Status: "expired", Message: err.Error()}
	case *mempool.RevertError:
		return SettleResponse{Status: "reverted", Message: err.Error()}
	case *mempool.SimulationRevertError:
		return SettleResponse{Status: "reverted", Message: err.Error()}
	default:
		return SettleResponse{Status: "error", Message: err.Error()}
	}
}

// buildNativePrices queries the oracle once per distinct token traded by
// the auction; a token whose price can't be fetched is simply omitted,
// causing any solution trading it to be discarded downstream rather than
// failing the whole request.
func (s *Server) buildNativePrices(ctx context.Context, auction domain.Auction) map[common.Address]domain.Price {
	seen := make(map[common.Address]bool)
	out := make(map[common.Address]domain.Price)
	for _, o := range auction.Orders {
		for _, token := range []common.Address{o.SellToken, o.BuyToken} {
			if seen[token] {
				continue
			}
			seen[token] = true
			price, err := s.oracle.NativePrice(ctx, token)
			if err != nil {
				s.logger.Debugw("native price unavailable", "token", token, "err", err)
				continue
			}
			out[token] = price
		}
	}
	return out
}

func decodeAuction(req SolveRequest) domain.Auction {
	auction := domain.Auction{
		Id:       req.AuctionId,
		Orders:   make([]domain.Order, 0, len(req.Orders)),
		Tokens:   make(map[common.Address]domain.TokenInfo, len(req.Tokens)),
		GasPrice: domain.GasPrice{Max: bigOrZero(req.GasPrice.Max), Tip: bigOrZero(req.GasPrice.Tip), Base: bigOrZero(req.GasPrice.Base)},
		Deadline: req.Deadline,
	}

	for _, o := range req.Orders {
		uid, err := domain.ParseOrderUid(o.Uid)
		if err != nil {
			continue
		}
		order := domain.Order{
			Uid:        uid,
			SellToken:  addrOrZero(o.SellToken),
			BuyToken:   addrOrZero(o.BuyToken),
			SellAmount: bigOrZero(o.SellAmount),
			BuyAmount:  bigOrZero(o.BuyAmount),
			FeeAmount:  bigOrZero(o.FeeAmount),
			Side:       sideFromWire(o.Side),
			Kind:       kindFromWire(o.Kind),
			ValidTo:    o.ValidTo,
		}
		if o.PartiallyFillable {
			order.Partial = domain.PartiallyFillable(bigOrZero(o.Available))
		}
		auction.Orders = append(auction.Orders, order)
	}

	for _, t := range req.Tokens {
		info := domain.TokenInfo{
			AvailableBalance: bigOrZero(t.AvailableBalance),
			Trusted:          t.Trusted,
		}
		if t.Price != nil {
			if u, ok := new(big.Int).SetString(*t.Price, 10); ok {
				if price, err := priceFromBig(u); err == nil {
					info.Price = &price
				}
			}
		}
		auction.Tokens[addrOrZero(t.Address)] = info
	}
	return auction
}

func sideFromWire(s string) domain.Side {
	if s == "buy" {
		return domain.Buy
	}
	return domain.Sell
}

func kindFromWire(k string) domain.OrderKind {
	switch k {
	case "limit":
		return domain.KindLimit
	case "liquidity":
		return domain.KindLiquidity
	default:
		return domain.KindMarket
	}
}

func encodeSolutions(solutions []domain.Solution) []SolutionInfo {
	out := make([]SolutionInfo, 0, len(solutions))
	for _, sol := range solutions {
		info := SolutionInfo{
			Id:             sol.Id,
			SolverAddress:  sol.SolverAddress.Hex(),
			ClearingPrices: make(map[string]string, len(sol.ClearingPrices)),
		}
		for token, price := range sol.ClearingPrices {
			info.ClearingPrices[token.Hex()] = price.Uint256().ToBig().String()
		}
		for _, eo := range sol.OrdersIncluded {
			info.OrdersTraded = append(info.OrdersTraded, TradeInfo{Uid: eo.Uid.String(), Executed: eo.Executed.String()})
		}
		out = append(out, info)
	}
	return out
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
