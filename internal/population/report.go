package population

import (
	"fmt"
	"math"
	"time"

	"github.com/nvandessel/monosim/internal/lineage"
)

// MaxRateGenerations caps GenerationsForRate.
const MaxRateGenerations = 25

// Event is one mutation event: the daughter that acquired the new state and
// the generation it was born in.
type Event struct {
	CellID     int64 `json:"cell_id"`
	Generation int   `json:"generation"`
}

// Report summarizes one expansion. It is the only thing the fluctuation
// assay consumes, and the unit persisted by snapshots and archives.
type Report struct {
	RunID     string `json:"run_id,omitempty"`
	Replicate int    `json:"replicate"`
	Seed      uint64 `json:"seed"`

	Params     lineage.Params `json:"params"`
	TargetSize int            `json:"target_size"`

	MonosomeEvents []Event `json:"monosome_events"`
	RevertEvents   []Event `json:"revert_events"`

	MonosomeEventCount int `json:"m_monosome"`
	RevertEventCount   int `json:"m_revert"`

	// Live counts over the final population.
	LiveMonosome  int `json:"n_monosome"`
	LiveRevertant int `json:"n_revert"`
	LiveMutant    int `json:"n_total"`

	FinalSize   int           `json:"final_size"`
	Generations int           `json:"generations"`
	ComputeTime time.Duration `json:"compute_time_ns"`
}

func buildReport(params lineage.Params, target int, pop []*lineage.Cell, monosome, revert []Event, generations int, elapsed time.Duration) Report {
	r := Report{
		Params:             params,
		TargetSize:         target,
		MonosomeEvents:     nonNil(monosome),
		RevertEvents:       nonNil(revert),
		MonosomeEventCount: len(monosome),
		RevertEventCount:   len(revert),
		FinalSize:          len(pop),
		Generations:        generations,
		ComputeTime:        elapsed,
	}
	for _, c := range pop {
		switch c.State {
		case lineage.Monosome:
			r.LiveMonosome++
			r.LiveMutant++
		case lineage.Revertant:
			r.LiveRevertant++
			r.LiveMutant++
		}
	}
	return r
}

func nonNil(events []Event) []Event {
	if events == nil {
		return []Event{}
	}
	return events
}

// GenerationsForRate returns how many doublings are needed to reach about
// x/rate cells, so that roughly x forward mutations are expected. The result
// is capped at MaxRateGenerations.
func GenerationsForRate(rate, x float64) (int, error) {
	if rate <= 0 || rate > 1 || math.IsNaN(rate) {
		return 0, fmt.Errorf("rate must be in (0, 1], got %v", rate)
	}
	if x <= 0 {
		return 0, fmt.Errorf("x must be positive, got %v", x)
	}
	n := int(math.Ceil(math.Log2(x / rate)))
	if n < 0 {
		n = 0
	}
	return min(n, MaxRateGenerations), nil
}

// TargetForRate returns 2^GenerationsForRate(rate, x).
func TargetForRate(rate, x float64) (int, error) {
	n, err := GenerationsForRate(rate, x)
	if err != nil {
		return 0, err
	}
	return 1 << n, nil
}
