package metrics

import (
	"math"
	"sort"

	"github.com/trussbench/trussbench/pkg/models"
)

// window is a bounded FIFO of samples. When full, appending evicts the
// oldest sample. Not safe for concurrent use; the Collector's mutex guards
// all access.
type window struct {
	samples []float64
	limit   int
}

func newWindow(limit int) window {
	return window{limit: limit}
}

func (w *window) add(v float64) {
	if len(w.samples) >= w.limit {
		w.samples = w.samples[1:]
	}
	w.samples = append(w.samples, v)
}

func (w *window) reset() {
	w.samples = nil
}

func (w *window) values() []float64 {
	out := make([]float64, len(w.samples))
	copy(out, w.samples)
	return out
}

// stats computes the summary block over the current window, or nil when the
// window is empty.
func (w *window) stats() *models.Stats {
	n := len(w.samples)
	if n == 0 {
		return nil
	}

	sorted := make([]float64, n)
	copy(sorted, w.samples)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	return &models.Stats{
		Mean: sum / float64(n),
		Min:  sorted[0],
		Max:  sorted[n-1],
		P50:  percentile(sorted, 50),
		P90:  percentile(sorted, 90),
		P95:  percentile(sorted, 95),
		P99:  percentile(sorted, 99),
	}
}

// percentile computes the p-th percentile of sorted data with linear
// interpolation between ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= n {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}
