// Package aggregate implements the result aggregator (spec §3, §4.10, C10):
// it rolls per-suite results into an AggregatedResult and reduces collected
// PerformanceData into percentile/throughput/slowest-URL statistics.
// Grounded verbatim on the teacher's performance_engine/metrics.go
// MetricsCollector.Finalize, which computes the same
// min/avg/max/median/p95/p99/throughput/slowest-endpoints reduction over a
// flat list of recorded request timings.
package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/blackcoderx/falcon-runner/internal/redact"
	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/varctx"
)

// Collector accumulates performance data across a run and builds the final
// AggregatedResult once every suite has finished.
type Collector struct {
	ProjectName string
	startTime   time.Time
	data        []rsuite.PerformanceDatum
}

func NewCollector(projectName string) *Collector {
	return &Collector{ProjectName: projectName, startTime: time.Now()}
}

// OnPerf is bound to dispatch.Dispatcher.OnPerf so every HTTP attempt across
// every suite feeds the same collector.
func (c *Collector) OnPerf(d rsuite.PerformanceDatum) {
	c.data = append(c.data, d)
}

// Finalize builds the AggregatedResult from suite results and the global
// variable registry's final snapshot (spec §3 AggregatedResult fields).
func (c *Collector) Finalize(suites []*rsuite.SuiteResult, registry *varctx.Registry) *rsuite.AggregatedResult {
	end := time.Now()
	totals := rsuite.Totals{}
	for _, s := range suites {
		totals.SuitesTotal++
		switch s.Status {
		case rsuite.SuiteSuccess:
			totals.SuitesSuccessful++
		case rsuite.SuiteFailure:
			totals.SuitesFailed++
		case rsuite.SuiteSkipped:
			totals.SuitesSkipped++
		}
		totals.StepsTotal += s.StepsExecuted
		totals.StepsSuccessful += s.StepsSuccessful
		totals.StepsFailed += s.StepsFailed
	}

	var successRate float64
	if totals.SuitesTotal > 0 {
		successRate = float64(totals.SuitesSuccessful) / float64(totals.SuitesTotal)
	}

	result := &rsuite.AggregatedResult{
		ProjectName:     c.ProjectName,
		StartTime:       c.startTime.UnixMilli(),
		EndTime:         end.UnixMilli(),
		TotalDurationMS: end.Sub(c.startTime).Milliseconds(),
		Totals:          totals,
		SuccessRate:     successRate,
		Suites:          suites,
	}
	if registry != nil {
		result.GlobalVariablesFinalState = redact.Values(registry.Snapshot())
	}
	result.PerformanceSummary = c.summarize()
	return result
}

// WriteReport writes result as {outputDir}/latest.json and a timestamped
// sibling {outputDir}/results-{unixmillis}.json (spec §6 "Aggregated result
// file"), creating outputDir if needed.
func WriteReport(outputDir string, result *rsuite.AggregatedResult) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("aggregate: create output dir: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("aggregate: marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "latest.json"), data, 0o644); err != nil {
		return fmt.Errorf("aggregate: write latest.json: %w", err)
	}
	sibling := filepath.Join(outputDir, fmt.Sprintf("results-%d.json", result.EndTime))
	if err := os.WriteFile(sibling, data, 0o644); err != nil {
		return fmt.Errorf("aggregate: write timestamped report: %w", err)
	}
	return nil
}

// summarize implements the teacher's MetricsCollector.Finalize reduction:
// sort response times for percentile lookup, compute mean/throughput, and
// rank URLs by mean response time for the slowest-10 list.
func (c *Collector) summarize() *rsuite.PerformanceSummary {
	n := len(c.data)
	if n == 0 {
		return &rsuite.PerformanceSummary{}
	}

	times := make([]float64, n)
	var sum float64
	minT, maxT := c.data[0].ResponseTimeMS, c.data[0].ResponseTimeMS
	for i, d := range c.data {
		t := float64(d.ResponseTimeMS)
		times[i] = t
		sum += t
		if d.ResponseTimeMS < minT {
			minT = d.ResponseTimeMS
		}
		if d.ResponseTimeMS > maxT {
			maxT = d.ResponseTimeMS
		}
	}
	sort.Float64s(times)

	summary := &rsuite.PerformanceSummary{
		Count:    n,
		MinMS:    float64(minT),
		MaxMS:    float64(maxT),
		AvgMS:    sum / float64(n),
		MedianMS: percentile(times, 50),
		P95MS:    percentile(times, 95),
		P99MS:    percentile(times, 99),
	}

	earliest, latest := c.data[0].TimestampMS, c.data[0].TimestampMS
	for _, d := range c.data {
		if d.TimestampMS < earliest {
			earliest = d.TimestampMS
		}
		if d.TimestampMS > latest {
			latest = d.TimestampMS
		}
	}
	spanSeconds := float64(latest-earliest) / 1000.0
	if spanSeconds > 0 {
		summary.ThroughputRPS = float64(n) / spanSeconds
	}

	summary.SlowestURLs = slowestURLs(c.data, 10)
	return summary
}

// percentile mirrors the teacher's index-based lookup:
// latencies[int(count*p/100)], clamped to the last index.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(float64(n) * p / 100.0)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func slowestURLs(data []rsuite.PerformanceDatum, limit int) []rsuite.SlowURL {
	type acc struct {
		sum   float64
		count int
	}
	byURL := make(map[string]*acc)
	var order []string
	for _, d := range data {
		a, ok := byURL[d.URL]
		if !ok {
			a = &acc{}
			byURL[d.URL] = a
			order = append(order, d.URL)
		}
		a.sum += float64(d.ResponseTimeMS)
		a.count++
	}

	out := make([]rsuite.SlowURL, 0, len(order))
	for _, url := range order {
		a := byURL[url]
		out = append(out, rsuite.SlowURL{URL: url, MeanMS: a.sum / float64(a.count), Count: a.count})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MeanMS > out[j].MeanMS })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
