package async

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/upilookup/errors"
)

// SystemMetrics reports worker pool and host memory usage.
type SystemMetrics struct {
	WorkersTotal  int     `json:"workers_total"`   // configured workers
	InFlight      int     `json:"in_flight"`       // lookups currently on the wire
	Pending       int     `json:"pending"`         // items not yet claimed by a worker
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // host memory in use
	MemoryTotalGB float64 `json:"memory_total_gb"` // host memory installed
	MemoryPercent float64 `json:"memory_percent"`
}

// getMemoryStats returns total and available host memory in bytes.
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// SystemMetrics returns current pool and memory usage. Memory fields are zero
// when the host does not report them.
func (c *Controller) SystemMetrics() SystemMetrics {
	c.mu.Lock()
	m := SystemMetrics{
		WorkersTotal: c.workers,
		InFlight:     c.state.InFlight,
		Pending:      len(c.items) - c.next,
	}
	c.mu.Unlock()

	total, available, err := getMemoryStats()
	if err == nil && total > 0 {
		const gb = 1 << 30
		m.MemoryTotalGB = float64(total) / gb
		m.MemoryUsedGB = float64(total-available) / gb
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}
	return m
}
