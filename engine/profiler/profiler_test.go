package profiler

import (
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-flock/engine/simulation"
)

func TestSummaryStatistics(t *testing.T) {
	p := NewProfiler()
	for i := 1; i <= 100; i++ {
		d := time.Duration(i) * time.Millisecond
		p.RecordStages(simulation.StageTimings{Sort: d, Total: 2 * d, Valid: true})
	}
	s := p.Summary()
	sort, ok := s["sort"]
	if !ok {
		t.Fatal("no sort statistics")
	}
	if sort.Samples != 100 {
		t.Errorf("samples = %d, want 100", sort.Samples)
	}
	if diff := sort.Mean - 50500*time.Microsecond; diff < -time.Microsecond || diff > time.Microsecond {
		t.Errorf("mean = %v, want 50.5ms", sort.Mean)
	}
	if sort.P95 != 95*time.Millisecond {
		t.Errorf("p95 = %v, want 95ms", sort.P95)
	}
	if sort.StdDev < 29*time.Millisecond || sort.StdDev > 30*time.Millisecond {
		t.Errorf("stddev = %v, want about 29.0ms", sort.StdDev)
	}
	if s["total"].Mean <= sort.Mean {
		t.Error("total mean not above sort mean")
	}
}

func TestInvalidTimingsOnlyRecordTotal(t *testing.T) {
	p := NewProfiler()
	p.RecordStages(simulation.StageTimings{Sort: time.Millisecond, Total: time.Millisecond})
	s := p.Summary()
	if _, ok := s["sort"]; ok {
		t.Error("stage recorded from untimed step")
	}
	if s["total"].Samples != 1 || s["total"].StdDev != 0 {
		t.Errorf("total = %+v, want one sample without spread", s["total"])
	}
}

func TestSampleWindowKeepsNewest(t *testing.T) {
	p := NewProfiler()
	p.SetSampleWindow(10)
	for i := 1; i <= 25; i++ {
		p.RecordStages(simulation.StageTimings{Total: time.Duration(i) * time.Millisecond})
	}
	total := p.Summary()["total"]
	if total.Samples != 10 {
		t.Fatalf("samples = %d, want 10", total.Samples)
	}
	if total.Mean != 20500*time.Microsecond {
		t.Errorf("mean of the newest ten = %v, want 20.5ms", total.Mean)
	}
	p.SetSampleWindow(0)
	if p.Summary()["total"].Samples != 10 {
		t.Error("window of zero was applied")
	}
}

func TestTickWaitsForInterval(t *testing.T) {
	p := NewProfiler()
	if p.Tick() {
		t.Error("Tick logged before the interval elapsed")
	}
	p.lastTime = time.Now().Add(-2 * time.Second)
	if !p.Tick() {
		t.Error("Tick did not log after the interval")
	}
}
