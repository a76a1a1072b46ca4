package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	Connects    atomic.Int64 // successful upgrades since process start
	Disconnects atomic.Int64 // peers torn down after being connected
	Failures    atomic.Int64 // connection attempts that never reached 101
	FramesOut   atomic.Int64 // data frames written to the server
	FramesIn    atomic.Int64 // data frames delivered to the device
	BytesOut    atomic.Int64 // payload bytes read from the device
	BytesIn     atomic.Int64 // payload bytes written to the device
	Pings       atomic.Int64 // keepalive pings sent
}

func (s *stats) AddConnect()    { s.Connects.Add(1) }
func (s *stats) AddDisconnect() { s.Disconnects.Add(1) }
func (s *stats) AddFailure()    { s.Failures.Add(1) }
func (s *stats) AddPing()       { s.Pings.Add(1) }

func (s *stats) AddSent(n int) {
	s.FramesOut.Add(1)
	s.BytesOut.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.FramesIn.Add(1)
	s.BytesIn.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StatsInterval is how often StartStatsReporter samples the counters.
const StatsInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs tunnel statistics
// every StatsInterval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(StatsInterval)
		defer ticker.Stop()

		var prevOut, prevIn, prevConn, prevDisc int64
		for {
			select {
			case <-ticker.C:
				out := Stats.BytesOut.Load()
				in := Stats.BytesIn.Load()
				conn := Stats.Connects.Load()
				disc := Stats.Disconnects.Load()

				secs := StatsInterval.Seconds()
				outS := float64(out-prevOut) / secs
				inS := float64(in-prevIn) / secs
				upC := conn - prevConn
				downC := disc - prevDisc

				if upC > 0 || downC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, upC, downC))
				}

				prevOut = out
				prevIn = in
				prevConn = conn
				prevDisc = disc

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, upC, downC int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Link: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		upC,
		downC,
	)
}
