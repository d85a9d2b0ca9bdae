package runner

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/miradorstack/mirador-chaos/internal/metrics"
)

// Verdicts for the recovery scorecard.
const (
	VerdictPass         = "PASS"
	VerdictWarning      = "WARNING"
	VerdictInconclusive = "INCONCLUSIVE"
)

const (
	// scorecardMinSamples is the minimum recovery count for a verdict.
	scorecardMinSamples = 10
	// scorecardSLASeconds is the recovery-time bound the fleet is held to.
	scorecardSLASeconds = 10.0
	// scorecardSLAFraction of recoveries must land within the bound.
	scorecardSLAFraction = 0.95
)

// Bucket is one aggregated histogram bucket.
type Bucket struct {
	UpperBound float64
	Count      uint64
}

// Scorecard summarises recovery-time performance from a metrics scrape.
type Scorecard struct {
	Count     uint64
	Sum       float64
	Avg       float64
	Buckets   []Bucket
	WithinSLA float64
	Verdict   string
}

// ParseScorecard reads a Prometheus text exposition and aggregates the
// readiness-failure-to-recovery histogram across all failure classes.
func ParseScorecard(exposition []byte) (Scorecard, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(exposition))
	if err != nil {
		return Scorecard{}, fmt.Errorf("parse exposition: %w", err)
	}

	family, ok := families[metrics.MetricRecoverySeconds]
	if !ok || family.GetType() != dto.MetricType_HISTOGRAM {
		return Scorecard{Verdict: VerdictInconclusive}, nil
	}

	card := Scorecard{}
	merged := make(map[float64]uint64)
	for _, metric := range family.GetMetric() {
		hist := metric.GetHistogram()
		if hist == nil {
			continue
		}
		card.Count += hist.GetSampleCount()
		card.Sum += hist.GetSampleSum()
		for _, bucket := range hist.GetBucket() {
			merged[bucket.GetUpperBound()] += bucket.GetCumulativeCount()
		}
	}

	bounds := make([]float64, 0, len(merged))
	for bound := range merged {
		bounds = append(bounds, bound)
	}
	sort.Float64s(bounds)
	for _, bound := range bounds {
		card.Buckets = append(card.Buckets, Bucket{UpperBound: bound, Count: merged[bound]})
	}

	if card.Count > 0 {
		card.Avg = card.Sum / float64(card.Count)
		card.WithinSLA = fractionWithin(card.Buckets, card.Count, scorecardSLASeconds)
	}
	card.Verdict = verdict(card)
	return card, nil
}

// fractionWithin returns the fraction of observations at or below bound,
// using the tightest bucket that does not exceed it.
func fractionWithin(buckets []Bucket, total uint64, bound float64) float64 {
	var within uint64
	for _, bucket := range buckets {
		if bucket.UpperBound <= bound {
			within = bucket.Count
		}
	}
	return float64(within) / float64(total)
}

func verdict(card Scorecard) string {
	if card.Count < scorecardMinSamples {
		return VerdictInconclusive
	}
	if card.WithinSLA >= scorecardSLAFraction {
		return VerdictPass
	}
	return VerdictWarning
}

// Write renders the scorecard for operators.
func (s Scorecard) Write(w io.Writer) {
	fmt.Fprintf(w, "recovery scorecard\n")
	fmt.Fprintf(w, "  recoveries: %d\n", s.Count)
	if s.Count > 0 {
		fmt.Fprintf(w, "  avg recovery: %.2fs\n", s.Avg)
		fmt.Fprintf(w, "  within %.0fs SLA: %.1f%%\n", scorecardSLASeconds, s.WithinSLA*100)
		for _, bucket := range s.Buckets {
			if bucket.Count == 0 {
				continue
			}
			bound := "+Inf"
			if !math.IsInf(bucket.UpperBound, 1) {
				bound = fmt.Sprintf("%.0fs", bucket.UpperBound)
			}
			fmt.Fprintf(w, "  <= %-5s %d\n", bound, bucket.Count)
		}
	}
	fmt.Fprintf(w, "  verdict: %s\n", s.Verdict)
}
