package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// StartSystemMetricsCollection refreshes uptime and host gauges until ctx is done.
func StartSystemMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		collectSystemMetrics(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collectSystemMetrics(ctx)
			}
		}
	}()
}

func collectSystemMetrics(ctx context.Context) {
	UptimeSeconds.Set(time.Since(startTime).Seconds())
	GoroutinesActive.Set(float64(runtime.NumGoroutine()))

	if vmStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		MemoryUsageBytes.Set(float64(vmStat.Used))
	}
	// zero interval compares against the previous call instead of blocking
	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		CPUUsagePercent.Set(cpuPercent[0])
	}
}
