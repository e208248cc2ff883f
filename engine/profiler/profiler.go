package profiler

import (
	"fmt"
	"log"
	"math"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Carmen-Shannon/oxy-flock/engine/simulation"
)

// DefaultSampleWindow is the number of recent steps the stage statistics cover.
const DefaultSampleWindow = 120

// StageStats summarises the recent durations of one pipeline stage.
type StageStats struct {
	Mean    time.Duration
	StdDev  time.Duration
	P95     time.Duration
	Samples int
}

// Profiler tracks step rate, memory and per-stage timing statistics. Outputs stats to the
// log at a configurable interval. RecordStages and Summary may be called from different
// goroutines.
type Profiler struct {
	mu sync.Mutex

	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	window  int
	samples map[string][]float64 // seconds, oldest first
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second and the sample window to DefaultSampleWindow steps.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
		window:         DefaultSampleWindow,
		samples:        make(map[string][]float64, len(simulation.StageNames)),
	}
}

// SetSampleWindow changes how many recent steps the stage statistics cover. Values below 1
// are ignored.
func (p *Profiler) SetSampleWindow(n int) {
	if n < 1 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = n
	for name, s := range p.samples {
		if len(s) > n {
			p.samples[name] = slices.Clone(s[len(s)-n:])
		}
	}
}

// RecordStages adds the timings of one step. Steps without valid per-stage timings only
// contribute their total.
//
// Parameters:
//   - t: the step's timings
func (p *Profiler) RecordStages(t simulation.StageTimings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, d := range t.Durations() {
		if name != "total" && !t.Valid {
			continue
		}
		s := append(p.samples[name], d.Seconds())
		if len(s) > p.window {
			s = s[len(s)-p.window:]
		}
		p.samples[name] = s
	}
}

// Summary returns the statistics of every stage with at least one sample.
//
// Returns:
//   - map[string]StageStats: statistics keyed by stage name
func (p *Profiler) Summary() map[string]StageStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]StageStats, len(p.samples))
	for name, s := range p.samples {
		if len(s) == 0 {
			continue
		}
		sorted := slices.Clone(s)
		slices.Sort(sorted)
		st := StageStats{
			Mean:    seconds(stat.Mean(s, nil)),
			P95:     seconds(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
			Samples: len(s),
		}
		if len(s) > 1 {
			st.StdDev = seconds(stat.StdDev(s, nil))
		}
		out[name] = st
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// Tick should be called once per step to track step timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: steps per second, heap usage, allocation rate, GC count/pause times,
// total memory and the mean and p95 of every timed stage.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	sps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	// Alloc: live heap. Sys: process footprint.
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024

	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 GC pauses
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			pause := p.memStats.PauseNs[i%256] / 1000
			if pause > maxPauseUs {
				maxPauseUs = pause
			}
		}
	}

	log.Printf("[Profiler] Steps/s: %.2f | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (last: %d µs, max: %d µs) | Sys: %.2f MB%s",
		sps, allocMB, allocRateMB, gcCount, lastPauseUs, maxPauseUs, sysMB, p.stageLine())

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// stageLine formats the stage statistics for the Tick log, in pipeline order.
func (p *Profiler) stageLine() string {
	summary := p.Summary()
	var b strings.Builder
	for _, name := range simulation.StageNames {
		st, ok := summary[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, " | %s: %v (p95 %v)", name, st.Mean.Round(time.Microsecond), st.P95.Round(time.Microsecond))
	}
	return b.String()
}
