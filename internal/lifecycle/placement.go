package lifecycle

import (
	"time"

	"github.com/denhq/control-plane/internal/models"
)

// nodeUsage is a node's declared capacity with its current reservations.
// Provisional (creating) containers count; a reservation exists from the
// moment the row does.
type nodeUsage struct {
	node       *models.Node
	memoryMB   int
	cpuCores   int
	storageGB  int
	containers int
}

func (u *nodeUsage) fits(memMB, cores, storGB int) bool {
	return u.memoryMB+memMB <= u.node.MaxMemoryMB &&
		u.cpuCores+cores <= u.node.MaxCPUCores &&
		u.storageGB+storGB <= u.node.MaxStorageGB
}

// score is the node's smallest free fraction across dimensions; placement
// prefers the node with the most headroom in its tightest dimension.
func (u *nodeUsage) score() float64 {
	frac := func(used, max int) float64 {
		if max <= 0 {
			return 0
		}
		return 1 - float64(used)/float64(max)
	}
	s := frac(u.memoryMB, u.node.MaxMemoryMB)
	if f := frac(u.cpuCores, u.node.MaxCPUCores); f < s {
		s = f
	}
	if f := frac(u.storageGB, u.node.MaxStorageGB); f < s {
		s = f
	}
	return s
}

// pickNode selects the online node with the most headroom that can fit the
// requested reservation. Returns nil when no node qualifies.
func pickNode(usages []*nodeUsage, now time.Time, window time.Duration, memMB, cores, storGB int) *nodeUsage {
	var best *nodeUsage
	for _, u := range usages {
		if !u.node.OnlineAt(now, window) {
			continue
		}
		if !u.fits(memMB, cores, storGB) {
			continue
		}
		if best == nil || u.score() > best.score() {
			best = u
		}
	}
	return best
}

func sumUsage(node *models.Node, containers []*models.Container) *nodeUsage {
	u := &nodeUsage{node: node}
	for _, c := range containers {
		u.memoryMB += c.MemoryMB
		u.cpuCores += c.CPUCores
		u.storageGB += c.StorageGB
		u.containers++
	}
	return u
}
