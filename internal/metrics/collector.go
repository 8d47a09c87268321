package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// DecodeCounters is a snapshot of the decoder's running totals
type DecodeCounters struct {
	TilesDone     int64
	TilesTotal    int64
	BlocksRead    int64
	BlocksSkipped int64
	BlocksFailed  int64
	Features      int64
}

// Source returns the current decode counters. It is called from the
// collector goroutine and must be safe for concurrent use.
type Source func() DecodeCounters

// Sample is one periodic decode progress measurement
type Sample struct {
	Timestamp time.Time
	Decode    DecodeCounters

	// Rates since the previous sample, zero on the first one
	TilesPerSec    float64
	BlocksPerSec   float64
	FeaturesPerSec float64

	CPUPercent    float64 // System-wide CPU usage (0-100%)
	RSSMB         float64 // Resident set, includes mapped pages of the map file
	MemoryPercent float64
}

// Collector periodically samples decode progress and host load
type Collector struct {
	source   Source
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	now      func() time.Time

	mu   sync.RWMutex
	last *Sample
}

// NewCollector creates a collector reading counters from source
func NewCollector(interval time.Duration, logger *zap.Logger, source Source) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	if source == nil {
		source = func() DecodeCounters { return DecodeCounters{} }
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		source:   source,
		interval: interval,
		logger:   logger,
		proc:     proc,
		now:      time.Now,
	}
}

// Start begins periodic collection. Returns when context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample sets the rate baseline
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Last returns the most recent sample, nil before the first one
func (c *Collector) Last() *Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	s := c.sample()

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()

	c.logger.Info("Decode progress",
		zap.Int64("tiles_done", s.Decode.TilesDone),
		zap.Int64("tiles_total", s.Decode.TilesTotal),
		zap.Int64("blocks_read", s.Decode.BlocksRead),
		zap.Int64("blocks_skipped", s.Decode.BlocksSkipped),
		zap.Int64("blocks_failed", s.Decode.BlocksFailed),
		zap.Int64("features", s.Decode.Features),
		zap.String("tiles_rate", formatRate(s.TilesPerSec)),
		zap.String("features_rate", formatRate(s.FeaturesPerSec)),
		zap.Float64("sys_cpu", s.CPUPercent),
		zap.String("rss", formatMB(s.RSSMB)),
		zap.Float64("mem_pct", s.MemoryPercent),
	)
}

// sample reads the decode counters and derives rates against the previous
// sample. Host metrics are best effort and stay zero when unavailable.
func (c *Collector) sample() *Sample {
	s := &Sample{
		Timestamp: c.now(),
		Decode:    c.source(),
	}

	c.mu.RLock()
	prev := c.last
	c.mu.RUnlock()
	if prev != nil {
		if elapsed := s.Timestamp.Sub(prev.Timestamp).Seconds(); elapsed > 0 {
			s.TilesPerSec = float64(s.Decode.TilesDone-prev.Decode.TilesDone) / elapsed
			s.BlocksPerSec = float64(s.Decode.BlocksRead-prev.Decode.BlocksRead) / elapsed
			s.FeaturesPerSec = float64(s.Decode.Features-prev.Decode.Features) / elapsed
		}
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if info, err := c.proc.MemoryInfo(); err == nil {
			s.RSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vmem.UsedPercent
	}
	return s
}

func formatRate(perSec float64) string {
	return fmt.Sprintf("%.1f/s", perSec)
}

func formatMB(mb float64) string {
	return fmt.Sprintf("%.0f MB", mb)
}
