package logpipeline

import (
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time read of a Writer's counters.
type Snapshot struct {
	BytesWritten       uint64
	LinesWritten       uint64
	WriteErrors        uint64
	FlushCount         uint64
	RotationCount      uint64
	BufferOverflows    uint64
	DroppedMessages    uint64
	AvgWriteLatencyUs  uint64
	AvgFlushLatencyUs  uint64
	UptimeSeconds      uint64
}

// counters holds the atomic fields backing Snapshot. Average latencies are
// tracked as a running sum/count pair and divided down on Snapshot.
type counters struct {
	bytesWritten    atomic.Uint64
	linesWritten    atomic.Uint64
	writeErrors     atomic.Uint64
	flushCount      atomic.Uint64
	rotationCount   atomic.Uint64
	bufferOverflows atomic.Uint64
	droppedMessages atomic.Uint64

	writeLatencySumUs atomic.Uint64
	writeLatencyN     atomic.Uint64
	flushLatencySumUs atomic.Uint64
	flushLatencyN     atomic.Uint64

	startedAt time.Time
}

func newCounters() *counters {
	return &counters{startedAt: time.Now()}
}

func (c *counters) recordWrite(n int, latency time.Duration) {
	c.bytesWritten.Add(uint64(n))
	c.linesWritten.Add(1)
	c.writeLatencySumUs.Add(uint64(latency.Microseconds()))
	c.writeLatencyN.Add(1)
}

func (c *counters) recordFlush(latency time.Duration) {
	c.flushCount.Add(1)
	c.flushLatencySumUs.Add(uint64(latency.Microseconds()))
	c.flushLatencyN.Add(1)
}

func (c *counters) snapshot() Snapshot {
	avg := func(sum, n *atomic.Uint64) uint64 {
		count := n.Load()
		if count == 0 {
			return 0
		}
		return sum.Load() / count
	}
	return Snapshot{
		BytesWritten:      c.bytesWritten.Load(),
		LinesWritten:      c.linesWritten.Load(),
		WriteErrors:       c.writeErrors.Load(),
		FlushCount:        c.flushCount.Load(),
		RotationCount:     c.rotationCount.Load(),
		BufferOverflows:   c.bufferOverflows.Load(),
		DroppedMessages:   c.droppedMessages.Load(),
		AvgWriteLatencyUs: avg(&c.writeLatencySumUs, &c.writeLatencyN),
		AvgFlushLatencyUs: avg(&c.flushLatencySumUs, &c.flushLatencyN),
		UptimeSeconds:     uint64(time.Since(c.startedAt).Seconds()),
	}
}
