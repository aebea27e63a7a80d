package autopilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cowbatch/autopilot/pkg/driverapi"
)

// maxDriverResponseBytes bounds how much of a driver's HTTP response this
// client will decode, mirroring solverclient's own bounded read.
const maxDriverResponseBytes = 10 << 20

// DriverClient is the autopilot's HTTP client for one driver's own
// surface (driverapi.Server's POST /solve and POST /settle).
type DriverClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewDriverClient returns a client for one driver listening at baseURL.
func NewDriverClient(baseURL string, timeout time.Duration) *DriverClient {
	return &DriverClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Solve posts req to the driver's /solve endpoint and decodes its reply.
func (c *DriverClient) Solve(ctx context.Context, req driverapi.SolveRequest) (driverapi.SolveResponse, error) {
	var resp driverapi.SolveResponse
	if err := c.post(ctx, "/solve", req, &resp); err != nil {
		return driverapi.SolveResponse{}, err
	}
	return resp, nil
}

// Settle posts req to the driver's /settle endpoint and decodes its reply.
func (c *DriverClient) Settle(ctx context.Context, req driverapi.SettleRequest) (driverapi.SettleResponse, error) {
	var resp driverapi.SettleResponse
	if err := c.post(ctx, "/settle", req, &resp); err != nil {
		return driverapi.SettleResponse{}, err
	}
	return resp, nil
}

func (c *DriverClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("driverclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("driverclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("driverclient: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp driverapi.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxDriverResponseBytes)).Decode(&errResp)
		return fmt.Errorf("driverclient: %s: status %d: %s", path, resp.StatusCode, errResp.Message)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDriverResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("driverclient: %s: decode response: %w", path, err)
	}
	return nil
}
