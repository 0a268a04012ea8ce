package model

import "time"

type HubStats struct {
	TotalSubscriptions int           `json:"total_subscriptions"`
	Buffered           int           `json:"buffered"`
	Published          uint64        `json:"published"`
	Delivered          uint64        `json:"delivered"`
	Uptime             time.Duration `json:"uptime"`
	Cells              []CellStats   `json:"cells,omitempty"`
}

type CellStats struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}
