// Package priceestimation specifies the native-price oracle contract used
// by scoring (CIP-38 conversion to native token), plus an HTTP-backed
// implementation for a deployment's own price-feed service.
package priceestimation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cowbatch/autopilot/pkg/domain"
)

// NativePriceOracle converts a token amount's value into the chain's native
// asset.
type NativePriceOracle interface {
	// NativePrice returns the price of one unit of token, denominated in
	// wei of native asset per 10^18 units of token.
	NativePrice(ctx context.Context, token common.Address) (domain.Price, error)
}

const maxResponseBytes = 1 << 20

// HTTPOracle queries one price-feed service's GET /price/{token} endpoint.
type HTTPOracle struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPOracle returns an HTTPOracle reading from baseURL.
func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{httpClient: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

type priceResponse struct {
	PriceWei string `json:"priceWei"`
}

func (o *HTTPOracle) NativePrice(ctx context.Context, token common.Address) (domain.Price, error) {
	url := fmt.Sprintf("%s/price/%s", o.baseURL, token.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Price{}, fmt.Errorf("priceestimation: build request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return domain.Price{}, fmt.Errorf("priceestimation: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Price{}, fmt.Errorf("priceestimation: status %d for token %s", resp.StatusCode, token.Hex())
	}

	var out priceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return domain.Price{}, fmt.Errorf("priceestimation: decode response: %w", err)
	}

	v, ok := new(big.Int).SetString(out.PriceWei, 10)
	if !ok {
		return domain.Price{}, fmt.Errorf("priceestimation: invalid price %q for token %s", out.PriceWei, token.Hex())
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return domain.Price{}, fmt.Errorf("priceestimation: price overflows 256 bits for token %s", token.Hex())
	}
	return domain.NewPrice(u)
}
