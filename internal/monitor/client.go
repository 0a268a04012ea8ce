package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/webitel/im-live-service/internal/domain/model"
)

// Client reads hub statistics from a running server.
type Client struct {
	base string
	http *http.Client
}

func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *Client) Stats(ctx context.Context) (model.HubStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/stats", nil)
	if err != nil {
		return model.HubStats{}, fmt.Errorf("monitor: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.HubStats{}, fmt.Errorf("monitor: fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.HubStats{}, fmt.Errorf("monitor: fetch stats: unexpected status %d", resp.StatusCode)
	}
	var stats model.HubStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return model.HubStats{}, fmt.Errorf("monitor: decode stats: %w", err)
	}
	return stats, nil
}
