package simulation

import "time"

// StageTimings are the wall-clock durations of one step. The per-stage values are only
// measured with stage timings enabled, since each one waits for the device; Total always
// covers the step but without waits it only measures submission.
type StageTimings struct {
	Clear   time.Duration
	Hash    time.Duration
	Sort    time.Duration
	Reorder time.Duration
	Update  time.Duration
	Total   time.Duration
	Valid   bool
}

// StageNames lists the pipeline stages in execution order, followed by "total".
var StageNames = []string{"clear", "hash", "sort", "reorder", "update", "total"}

// Durations returns the timings keyed by the names in StageNames.
func (t StageTimings) Durations() map[string]time.Duration {
	return map[string]time.Duration{
		"clear":   t.Clear,
		"hash":    t.Hash,
		"sort":    t.Sort,
		"reorder": t.Reorder,
		"update":  t.Update,
		"total":   t.Total,
	}
}
