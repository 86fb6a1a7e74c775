package dashboard

// histogramBins is the fixed bin count for the latency distribution panels.
const histogramBins = 10

// HistogramData is one binned distribution. Edges has len(Counts)+1 entries;
// bin i spans [Edges[i], Edges[i+1]), with the last bin closed on the right.
type HistogramData struct {
	Edges  []float64 `json:"edges"`
	Counts []int     `json:"counts"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Mean   float64   `json:"mean"`
}

// computeHistogram bins the samples into histogramBins equal-width bins over
// [min, max]. Empty input yields a zero-value HistogramData. When all
// samples are equal the range is widened by ±0.5 so every sample lands in a
// real bin.
func computeHistogram(samples []float64) HistogramData {
	if len(samples) == 0 {
		return HistogramData{}
	}

	min, max := samples[0], samples[0]
	sum := 0.0
	for _, v := range samples {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	lo, hi := min, max
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}
	width := (hi - lo) / histogramBins

	edges := make([]float64, histogramBins+1)
	for i := range edges {
		edges[i] = lo + float64(i)*width
	}
	edges[histogramBins] = hi

	counts := make([]int, histogramBins)
	for _, v := range samples {
		idx := int((v - lo) / width)
		if idx >= histogramBins {
			idx = histogramBins - 1
		}
		counts[idx]++
	}

	return HistogramData{
		Edges:  edges,
		Counts: counts,
		Min:    min,
		Max:    max,
		Mean:   sum / float64(len(samples)),
	}
}
