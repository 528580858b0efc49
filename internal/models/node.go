package models

import "time"

// Node represents an execution host in the fleet. Each node runs an agent
// that performs container operations on the control plane's behalf,
// authenticated by the node's token. Exactly one token value is valid at a
// time; rotation invalidates the previous value immediately.
type Node struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Hostname       string     `json:"hostname"`
	PublicHostname *string    `json:"public_hostname"`
	Token          string     `json:"-"`
	MaxMemoryMB    int        `json:"max_memory_mb"`
	MaxCPUCores    int        `json:"max_cpu_cores"`
	MaxStorageGB   int        `json:"max_storage_gb"`
	IsOnline       bool       `json:"is_online"`
	LastSeen       *time.Time `json:"last_seen"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// OnlineAt reports whether the node's most recent heartbeat falls within the
// freshness window. Liveness is derived, never stored: a stale node goes
// offline without an explicit transition.
func (n *Node) OnlineAt(now time.Time, window time.Duration) bool {
	if n.LastSeen == nil {
		return false
	}
	return now.Sub(*n.LastSeen) <= window
}

// RouteHost returns the hostname public traffic should be routed to.
func (n *Node) RouteHost() string {
	if n.PublicHostname != nil && *n.PublicHostname != "" {
		return *n.PublicHostname
	}
	return n.Hostname
}
