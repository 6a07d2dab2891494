package aggregate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/varctx"
)

func TestPercentileIndexBasedLookup(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, float64(60), percentile(sorted, 50))
	assert.Equal(t, float64(100), percentile(sorted, 95))
	assert.Equal(t, float64(0), percentile(nil, 50))
}

func TestFinalizeComputesTotalsAndSuccessRate(t *testing.T) {
	c := NewCollector("demo-project")
	suites := []*rsuite.SuiteResult{
		{NodeID: "a", Status: rsuite.SuiteSuccess, StepsExecuted: 2, StepsSuccessful: 2},
		{NodeID: "b", Status: rsuite.SuiteFailure, StepsExecuted: 3, StepsSuccessful: 1, StepsFailed: 2},
	}
	result := c.Finalize(suites, varctx.NewRegistry())

	assert.Equal(t, 2, result.Totals.SuitesTotal)
	assert.Equal(t, 1, result.Totals.SuitesSuccessful)
	assert.Equal(t, 1, result.Totals.SuitesFailed)
	assert.Equal(t, 5, result.Totals.StepsTotal)
	assert.Equal(t, 0.5, result.SuccessRate)
}

func TestFinalizeWithNoPerfDataReturnsEmptySummary(t *testing.T) {
	c := NewCollector("demo")
	result := c.Finalize(nil, varctx.NewRegistry())
	require.NotNil(t, result.PerformanceSummary)
	assert.Equal(t, 0, result.PerformanceSummary.Count)
}

func TestSummarizeComputesMinMaxAvg(t *testing.T) {
	c := NewCollector("demo")
	c.OnPerf(rsuite.PerformanceDatum{URL: "/a", ResponseTimeMS: 100, TimestampMS: 1000})
	c.OnPerf(rsuite.PerformanceDatum{URL: "/a", ResponseTimeMS: 200, TimestampMS: 1100})
	c.OnPerf(rsuite.PerformanceDatum{URL: "/b", ResponseTimeMS: 300, TimestampMS: 1200})

	summary := c.summarize()
	assert.Equal(t, 3, summary.Count)
	assert.Equal(t, float64(100), summary.MinMS)
	assert.Equal(t, float64(300), summary.MaxMS)
	assert.InDelta(t, 200, summary.AvgMS, 0.001)
}

func TestSlowestURLsRankedByMeanDescending(t *testing.T) {
	data := []rsuite.PerformanceDatum{
		{URL: "/fast", ResponseTimeMS: 10},
		{URL: "/slow", ResponseTimeMS: 500},
		{URL: "/fast", ResponseTimeMS: 20},
	}
	urls := slowestURLs(data, 10)
	require.Len(t, urls, 2)
	assert.Equal(t, "/slow", urls[0].URL)
	assert.Equal(t, "/fast", urls[1].URL)
	assert.Equal(t, 2, urls[1].Count)
}

func TestSlowestURLsRespectsLimit(t *testing.T) {
	data := []rsuite.PerformanceDatum{
		{URL: "/1", ResponseTimeMS: 1},
		{URL: "/2", ResponseTimeMS: 2},
		{URL: "/3", ResponseTimeMS: 3},
	}
	urls := slowestURLs(data, 2)
	assert.Len(t, urls, 2)
}

func TestWriteReportWritesLatestAndTimestampedSibling(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	result := &rsuite.AggregatedResult{ProjectName: "demo", EndTime: 1234}

	require.NoError(t, WriteReport(dir, result))

	latest, err := os.ReadFile(filepath.Join(dir, "latest.json"))
	require.NoError(t, err)
	sibling, err := os.ReadFile(filepath.Join(dir, "results-1234.json"))
	require.NoError(t, err)
	assert.Equal(t, latest, sibling)

	var decoded rsuite.AggregatedResult
	require.NoError(t, json.Unmarshal(latest, &decoded))
	assert.Equal(t, "demo", decoded.ProjectName)
}
