package logger

import (
	"runtime"
	"time"
)

// MemStatsMonitor 长驻抓取进程的内存监控器
// watch命令启动后周期性输出内存水位，用于观察跨周期的内存增长
type MemStatsMonitor struct {
	interval time.Duration
	stopped  chan struct{}
}

// NewMemStatsMonitor 创建一个新的内存监控器
func NewMemStatsMonitor(interval time.Duration) *MemStatsMonitor {
	return &MemStatsMonitor{
		interval: interval,
		stopped:  make(chan struct{}),
	}
}

// Start 在后台按固定间隔输出内存水位
func (m *MemStatsMonitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logMemStats("抓取进程内存水位")
			case <-m.stopped:
				return
			}
		}
	}()
}

// Stop 停止监控
func (m *MemStatsMonitor) Stop() {
	close(m.stopped)
}

// LogMemStatsOnce 输出一次内存水位快照，抓取周期开始时调用
func LogMemStatsOnce() {
	logMemStats("抓取周期内存快照")
}

func logMemStats(msg string) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	Info(msg,
		"heap_alloc_mb", stats.HeapAlloc/1024/1024,
		"heap_sys_mb", stats.HeapSys/1024/1024,
		"total_alloc_mb", stats.TotalAlloc/1024/1024,
		"goroutines", runtime.NumGoroutine(),
		"gc_cycles", stats.NumGC)
}
