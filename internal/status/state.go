package status

import "time"

// Key names a canonical sync state.
type Key string

const (
	OfflineNoNetwork      Key = "OFFLINE_NO_NETWORK"
	OnlineBackendDegraded Key = "ONLINE_BACKEND_DEGRADED"
	OnlineBacklogPending  Key = "ONLINE_BACKLOG_PENDING"
	OnlineHealthy         Key = "ONLINE_HEALTHY"
)

// Severity ranks how prominently a state should be shown.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Metadata is the fixed presentation of a state.
type Metadata struct {
	Label        string   `json:"label"`
	Description  string   `json:"description"`
	Severity     Severity `json:"severity"`
	Icon         string   `json:"icon"`
	ShowRetry    bool     `json:"showRetry"`
	ShowLastSync bool     `json:"showLastSync"`
}

var metadata = map[Key]Metadata{
	OfflineNoNetwork: {
		Label:        "Offline",
		Description:  "No network connection. Changes are saved on this device and will sync when you reconnect.",
		Severity:     SeverityWarning,
		Icon:         "cloud-offline",
		ShowRetry:    false,
		ShowLastSync: true,
	},
	OnlineBackendDegraded: {
		Label:        "Service issues",
		Description:  "Connected, but the tour service is not responding normally. Changes are queued.",
		Severity:     SeverityError,
		Icon:         "cloud-alert",
		ShowRetry:    true,
		ShowLastSync: true,
	},
	OnlineBacklogPending: {
		Label:        "Syncing",
		Description:  "Connected. Queued changes are waiting to be delivered.",
		Severity:     SeverityInfo,
		Icon:         "cloud-upload",
		ShowRetry:    true,
		ShowLastSync: true,
	},
	OnlineHealthy: {
		Label:        "All changes synced",
		Description:  "Connected and up to date.",
		Severity:     SeveritySuccess,
		Icon:         "cloud-done",
		ShowRetry:    false,
		ShowLastSync: false,
	},
}

// Keys lists the canonical states in precedence order.
func Keys() []Key {
	return []Key{OfflineNoNetwork, OnlineBackendDegraded, OnlineBacklogPending, OnlineHealthy}
}

// Meta returns the metadata of k. Unknown keys get the degraded metadata.
func Meta(k Key) Metadata {
	if m, ok := metadata[k]; ok {
		return m
	}
	return metadata[OnlineBackendDegraded]
}

// Network describes device connectivity. A nil Online counts as online.
type Network struct {
	Online *bool `json:"isOnline,omitempty"`
}

// Backend describes the remote store. A nil Reachable counts as reachable.
type Backend struct {
	Reachable *bool `json:"isReachable,omitempty"`
	Degraded  bool  `json:"isDegraded,omitempty"`
}

// QueueCounts are the queue counters that matter for the backlog check.
// Negative values count as zero.
type QueueCounts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
}

func (q QueueCounts) backlog() int {
	return max(q.Pending, 0) + max(q.Syncing, 0) + max(q.Failed, 0)
}

// State is a derived sync state.
type State struct {
	Key        Key        `json:"key"`
	Metadata   Metadata   `json:"metadata"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
}

// Derive picks the first matching state:
// offline, then backend unreachable or degraded, then any backlog, then
// healthy.
func Derive(network Network, backend Backend, queue QueueCounts, lastSyncAt *time.Time) State {
	key := OnlineHealthy
	switch {
	case network.Online != nil && !*network.Online:
		key = OfflineNoNetwork
	case (backend.Reachable != nil && !*backend.Reachable) || backend.Degraded:
		key = OnlineBackendDegraded
	case queue.backlog() > 0:
		key = OnlineBacklogPending
	}
	return State{Key: key, Metadata: Meta(key), LastSyncAt: lastSyncAt}
}

// Bool returns a pointer to v, for filling Network and Backend.
func Bool(v bool) *bool { return &v }
