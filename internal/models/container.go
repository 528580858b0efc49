package models

import "time"

// Container status values.
const (
	ContainerStatusCreating      = "creating"
	ContainerStatusRunning       = "running"
	ContainerStatusStopped       = "stopped"
	ContainerStatusError         = "error"
	ContainerStatusPendingDelete = "pending-delete"
)

// Container is a user's isolated runtime environment. Each container belongs
// to exactly one user and is scheduled on exactly one node; its resource
// reservation is drawn from that node's declared capacity.
type Container struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	NodeID         int64     `json:"node_id"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	IPAddress      *string   `json:"ip_address"`
	SSHPort        int       `json:"ssh_port"`
	MemoryMB       int       `json:"memory_mb"`
	CPUCores       int       `json:"cpu_cores"`
	StorageGB      int       `json:"storage_gb"`
	AllocatedPorts []int     `json:"allocated_ports"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasPort reports whether the given host port is allocated to this container.
func (c *Container) HasPort(port int) bool {
	for _, p := range c.AllocatedPorts {
		if p == port {
			return true
		}
	}
	return false
}
