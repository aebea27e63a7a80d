// Package solverclient implements the driver-side HTTP client for the
// solver /solve contract.
package solverclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes bounds how much of a solver's response body is read,
// independent of app-data's own size cap, to protect the driver from a
// misbehaving or malicious solver.
const maxResponseBytes = 10 << 20 // 10 MiB

// Order is the wire representation of one order handed to a solver.
type Order struct {
	Uid            string `json:"uid"`
	SellToken      string `json:"sellToken"`
	BuyToken       string `json:"buyToken"`
	SellAmount     string `json:"sellAmount"`
	BuyAmount      string `json:"buyAmount"`
	FeeAmount      string `json:"feeAmount"`
	Kind           string `json:"kind"`
	Partial        bool   `json:"partiallyFillable"`
	Available      string `json:"available,omitempty"`
	ValidTo        uint32 `json:"validTo"`
}

// Token is the wire representation of one token's auction metadata.
type Token struct {
	Address          string  `json:"address"`
	Price            *string `json:"price,omitempty"`
	AvailableBalance string  `json:"availableBalance"`
	Trusted          bool    `json:"trusted"`
}

// Liquidity is one liquidity source entry passed through to the solver.
type Liquidity struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

// Request is the body of POST /solve.
type Request struct {
	Id                uint64      `json:"id"`
	Orders            []Order     `json:"orders"`
	Tokens            []Token     `json:"tokens"`
	Liquidity         []Liquidity `json:"liquidity,omitempty"`
	EffectiveGasPrice string      `json:"effectiveGasPrice"`
	Deadline          time.Time   `json:"deadline"`
}

// Interaction is one on-chain call in a solver's response. Internalizable
// marks an interaction the driver may replace with a contract-buffer swap
// when encoding the Internalized settlement variant.
type Interaction struct {
	Target         string `json:"target"`
	Value          string `json:"value"`
	CallData       string `json:"callData"`
	Internalizable bool   `json:"internalizable,omitempty"`
}

// Trade is one executed order in a solver's response.
type Trade struct {
	Uid      string `json:"uid"`
	Executed string `json:"executedAmount"`
}

// Solution is one solution in a solver's /solve response.
type Solution struct {
	Id               uint64            `json:"id"`
	Prices           map[string]string `json:"prices"`
	Trades           []Trade           `json:"trades"`
	Interactions     []Interaction     `json:"interactions"`
	PreInteractions  []Interaction     `json:"preInteractions,omitempty"`
	PostInteractions []Interaction     `json:"postInteractions,omitempty"`
	Score            *string           `json:"score,omitempty"`
	Gas              *uint64           `json:"gas,omitempty"`
}

// Response is the body of a solver's /solve reply.
type Response struct {
	Solutions []Solution `json:"solutions"`
}

// Client calls one solver's HTTP /solve endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New returns a Client for the solver listening at baseURL. timeout bounds
// every request; callers should further bound it via ctx to carve out the
// driver's share of the overall auction deadline.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Solve posts req to the solver and parses its response, subject to the
// bounded timeout carried by ctx.
func (c *Client) Solve(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("solverclient: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/solve", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("solverclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("solverclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("solverclient: solver returned status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	var out Response
	if err := json.NewDecoder(limited).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("solverclient: decode response: %w", err)
	}
	return out, nil
}
