package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GatewayMessage is one push destined for one device address.
type GatewayMessage struct {
	Address string            `json:"address"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// GatewayResult is the per-address accept/reject verdict from the gateway.
type GatewayResult struct {
	Address  string `json:"address"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Gateway submits one batch of messages to the external push service.
type Gateway interface {
	SendBatch(ctx context.Context, msgs []GatewayMessage) ([]GatewayResult, error)
}

// HTTPGateway posts JSON batches to the push provider endpoint using a
// bearer key, mirroring FCM-style HTTP delivery.
type HTTPGateway struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewHTTPGateway(endpoint, key string) *HTTPGateway {
	return &HTTPGateway{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (g *HTTPGateway) SendBatch(ctx context.Context, msgs []GatewayMessage) ([]GatewayResult, error) {
	b, err := json.Marshal(map[string]any{"messages": msgs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Key != "" {
		req.Header.Set("Authorization", "Bearer "+g.Key)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("push gateway status %d", resp.StatusCode)
	}
	var out struct {
		Results []GatewayResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Results, nil
}
