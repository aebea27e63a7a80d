// Package orderbookclient implements orderbook.Client against the order
// book's solvable-orders REST endpoint, using the same bounded-read
// net/http JSON pattern as solverclient and autopilot.DriverClient.
package orderbookclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowbatch/autopilot/pkg/crypto"
	"github.com/cowbatch/autopilot/pkg/domain"
)

const maxResponseBytes = 10 << 20

var errPriceOverflow = errors.New("orderbookclient: token price overflows 256 bits")

func priceFromBig(v *big.Int) (domain.Price, error) {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return domain.Price{}, errPriceOverflow
	}
	return domain.NewPrice(u)
}

// Client calls one order book's current-auction endpoint over HTTP. Every
// ECDSA-signed order it decodes is re-checked against its own EIP-712
// signature under domain before being handed to the rest of the pipeline
// (pre-sign and EIP-1271 orders, and orders with no signing scheme, pass
// through unchecked; see verifySignature); an order that
// fails this check is dropped rather than failing the whole snapshot, since
// a single order book having a bug doesn't need to stall every solver.
type Client struct {
	httpClient *http.Client
	url        string
	signer     *crypto.EIP712Signer
	logger     logFunc
}

// logFunc is the minimal logging surface CurrentAuction needs for dropped
// orders, satisfied by *zap.SugaredLogger's Warnw.
type logFunc func(msg string, keysAndValues ...interface{})

// New returns a Client polling url (a full "GET current auction" endpoint),
// verifying order signatures under domain.
func New(url string, timeout time.Duration, domain crypto.EIP712Domain) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
		signer:     crypto.NewEIP712Signer(domain),
	}
}

// WithLogger attaches a warning sink for dropped orders; without one,
// CurrentAuction drops silently.
func (c *Client) WithLogger(warnw func(msg string, keysAndValues ...interface{})) *Client {
	c.logger = warnw
	return c
}

func (c *Client) warn(msg string, kv ...interface{}) {
	if c.logger != nil {
		c.logger(msg, kv...)
	}
}

type auctionWire struct {
	Id       *int64      `json:"id,omitempty"`
	Orders   []orderWire `json:"orders"`
	Tokens   []tokenWire `json:"tokens"`
	GasPrice struct {
		Max  string `json:"max"`
		Tip  string `json:"tip"`
		Base string `json:"base,omitempty"`
	} `json:"gasPrice"`
	Deadline time.Time `json:"deadline"`
}

type orderWire struct {
	Uid               string `json:"uid"`
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	FeeAmount         string `json:"feeAmount"`
	Side              string `json:"side"`
	Kind              string `json:"kind"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	Available         string `json:"available,omitempty"`
	ValidTo           uint32 `json:"validTo"`
	AppData           string `json:"appData,omitempty"`
	SignatureType     string `json:"signingScheme,omitempty"`
	Signature         string `json:"signature,omitempty"`
}

type tokenWire struct {
	Address          string  `json:"address"`
	Price            *string `json:"price,omitempty"`
	AvailableBalance string  `json:"availableBalance"`
	Trusted          bool    `json:"trusted"`
}

// CurrentAuction implements orderbook.Client.
func (c *Client) CurrentAuction(ctx context.Context) (domain.Auction, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return domain.Auction{}, false, fmt.Errorf("orderbookclient: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Auction{}, false, fmt.Errorf("orderbookclient: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return domain.Auction{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Auction{}, false, fmt.Errorf("orderbookclient: status %d", resp.StatusCode)
	}

	var wire auctionWire
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&wire); err != nil {
		return domain.Auction{}, false, fmt.Errorf("orderbookclient: decode response: %w", err)
	}

	return c.decodeAuction(wire), true, nil
}

func (c *Client) decodeAuction(wire auctionWire) domain.Auction {
	auction := domain.Auction{
		Id:     wire.Id,
		Orders: make([]domain.Order, 0, len(wire.Orders)),
		Tokens: make(map[common.Address]domain.TokenInfo, len(wire.Tokens)),
		GasPrice: domain.GasPrice{
			Max:  bigOrZero(wire.GasPrice.Max),
			Tip:  bigOrZero(wire.GasPrice.Tip),
			Base: bigOrZero(wire.GasPrice.Base),
		},
		Deadline: wire.Deadline,
	}

	for _, o := range wire.Orders {
		uid, err := domain.ParseOrderUid(o.Uid)
		if err != nil {
			continue
		}
		order := domain.Order{
			Uid:        uid,
			SellToken:  common.HexToAddress(o.SellToken),
			BuyToken:   common.HexToAddress(o.BuyToken),
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
		if raw, err := hex.DecodeString(strings.TrimPrefix(o.AppData, "0x")); err == nil && len(raw) == 32 {
			copy(order.AppData[:], raw)
		}
		if sig, err := hex.DecodeString(strings.TrimPrefix(o.Signature, "0x")); err == nil {
			order.Signature = sig
		}

		if !c.verifySignature(order, o.SignatureType) {
			c.warn("orderbookclient: dropping order with invalid signature", "uid", o.Uid)
			continue
		}
		auction.Orders = append(auction.Orders, order)
	}

	for _, t := range wire.Tokens {
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
		auction.Tokens[common.HexToAddress(t.Address)] = info
	}

	return auction
}

// verifySignature checks order against its own EIP-712 signature for the
// two ECDSA signing schemes ("eip712" and "ethsign"); pre-sign and EIP-1271
// orders carry their authorization on-chain and are accepted as-is, since
// this client has no contract-call path to check them.
func (c *Client) verifySignature(order domain.Order, scheme string) bool {
	switch scheme {
	case "presign", "eip1271", "":
		return true
	}
	if len(order.Signature) != 65 {
		return false
	}
	ok, err := c.signer.VerifyOrderSignature(crypto.OrderEIP712FromDomain(order), order.Owner(), order.Signature)
	if err != nil {
		return false
	}
	return ok
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

func bigOrZero(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
