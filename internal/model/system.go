package model

// StatusInfo summarises engine health for the status endpoint.
type StatusInfo struct {
	Status       string             `json:"status"`
	StrictMode   bool               `json:"strict_mode"`
	Database     string             `json:"database"`
	DbVersion    int64              `json:"db_version"`
	Facts        int64              `json:"facts"`
	Issuers      int64              `json:"issuers"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Caches       []CacheStats       `json:"caches"`
}

// DependencyStatus is the breaker and call bookkeeping for one upstream source.
type DependencyStatus struct {
	Name                string  `json:"name"`
	State               string  `json:"state"`
	Degraded            bool    `json:"degraded"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	Calls               int64   `json:"calls"`
	Failures            int64   `json:"failures"`
	LastError           string  `json:"last_error,omitempty"`
	LastSuccess         *string `json:"last_success,omitempty"`
	LastFailure         *string `json:"last_failure,omitempty"`
}

// CacheStats reports hit/miss counters for an in-process cache.
type CacheStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Fetches int64  `json:"fetches"`
}
