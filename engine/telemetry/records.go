package telemetry

import (
	"time"

	"github.com/Carmen-Shannon/oxy-flock/engine/profiler"
	"github.com/Carmen-Shannon/oxy-flock/engine/simulation"
)

// TimingRecord is one row of timings.csv: the stage durations of one step.
type TimingRecord struct {
	Step      uint64  `csv:"step"`
	Model     string  `csv:"model"`
	Agents    uint32  `csv:"agents"`
	Parity    int     `csv:"parity"`
	ClearUs   float64 `csv:"clear_us"`
	HashUs    float64 `csv:"hash_us"`
	SortUs    float64 `csv:"sort_us"`
	ReorderUs float64 `csv:"reorder_us"`
	UpdateUs  float64 `csv:"update_us"`
	TotalUs   float64 `csv:"total_us"`
	Valid     bool    `csv:"stages_valid"` // false when only the total was measured
}

// NewTimingRecord builds the row of one step.
func NewTimingRecord(step uint64, model string, agents uint32, parity int, t simulation.StageTimings) TimingRecord {
	return TimingRecord{
		Step:      step,
		Model:     model,
		Agents:    agents,
		Parity:    parity,
		ClearUs:   micros(t.Clear),
		HashUs:    micros(t.Hash),
		SortUs:    micros(t.Sort),
		ReorderUs: micros(t.Reorder),
		UpdateUs:  micros(t.Update),
		TotalUs:   micros(t.Total),
		Valid:     t.Valid,
	}
}

// StageSummaryRecord is one row of stages.csv: the rolling statistics of one stage.
type StageSummaryRecord struct {
	Step     uint64  `csv:"step"`
	Stage    string  `csv:"stage"`
	MeanUs   float64 `csv:"mean_us"`
	StdDevUs float64 `csv:"stddev_us"`
	P95Us    float64 `csv:"p95_us"`
	Samples  int     `csv:"samples"`
}

// NewStageSummaryRecords turns a profiler summary into rows in pipeline order.
func NewStageSummaryRecords(step uint64, summary map[string]profiler.StageStats) []StageSummaryRecord {
	records := make([]StageSummaryRecord, 0, len(summary))
	for _, name := range simulation.StageNames {
		st, ok := summary[name]
		if !ok {
			continue
		}
		records = append(records, StageSummaryRecord{
			Step:     step,
			Stage:    name,
			MeanUs:   micros(st.Mean),
			StdDevUs: micros(st.StdDev),
			P95Us:    micros(st.P95),
			Samples:  st.Samples,
		})
	}
	return records
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
