package metrics

import (
	"runtime"
	"time"
)

// Collector periodically samples process-level stats (goroutines, memory,
// CPU) into a Metrics instance's gauges. Adapted from the teacher's
// EnhancedMetrics.StartCollection ticker loop, minus the indirection layer
// that loop used to reach SimpleMetrics.
type Collector struct {
	metrics *Metrics
	system  *SystemMetrics
	runtime *RuntimeMetricsReader
	period  time.Duration
}

func NewCollector(m *Metrics, period time.Duration) *Collector {
	return &Collector{
		metrics: m,
		system:  NewSystemMetrics(),
		runtime: NewRuntimeMetricsReader(),
		period:  period,
	}
}

// Run blocks, sampling every period until the caller closes done.
func (c *Collector) Run(done <-chan struct{}) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	c.system.Update()
	c.runtime.Update()

	c.metrics.UpdateGoroutines(runtime.NumGoroutine())
	c.metrics.UpdateMemoryUsage(uint64(c.system.GetMemoryMB() * 1024 * 1024))
	c.metrics.UpdateCPUUsage(c.system.GetCPUPercent())
}

// Snapshot returns the last-sampled system and Go-runtime stats for the
// /health endpoint, without forcing an out-of-band sample.
func (c *Collector) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"system":  c.system.GetSystemInfo(),
		"runtime": c.runtime.GetAllStats(),
	}
}
