package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var loadMoreRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "inventory_provider_load_more_rejected_total",
	Help: "LoadMore calls ignored because another one was running",
})

// Status is the provider lifecycle state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusReady
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats describes the cache state of a provider.
type Stats struct {
	Status           Status `json:"status"`
	Exposed          int    `json:"exposed"`
	Staged           int    `json:"staged"`
	UICursor         int    `json:"ui_cursor"`
	ServerItems      int    `json:"server_items"`
	NextServerCursor string `json:"next_server_cursor,omitempty"`
	HasMoreData      bool   `json:"has_more_data"`
	LoadingMore      bool   `json:"loading_more"`
}
