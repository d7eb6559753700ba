package datadog

import (
	"testing"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moviesetl/internal/metrics"
)

// recordingClient overrides the calls the backend makes; every other method
// of the embedded interface is left nil.
type recordingClient struct {
	statsd.ClientInterface

	counts     map[string]int64
	histograms map[string][]float64
	tags       [][]string
	flushed    int
	closed     int
}

func newRecordingClient() *recordingClient {
	return &recordingClient{counts: map[string]int64{}, histograms: map[string][]float64{}}
}

func (c *recordingClient) Count(name string, value int64, tags []string, rate float64) error {
	c.counts[name] += value
	c.tags = append(c.tags, tags)
	return nil
}

func (c *recordingClient) Histogram(name string, value float64, tags []string, rate float64) error {
	c.histograms[name] = append(c.histograms[name], value)
	return nil
}

func (c *recordingClient) Flush() error { c.flushed++; return nil }
func (c *recordingClient) Close() error { c.closed++; return nil }

func TestNewBackend(t *testing.T) {
	t.Parallel()

	_, err := NewBackend(Config{})
	require.Error(t, err)

	b, err := NewBackend(Config{Addr: "127.0.0.1:8125", Namespace: "moviesetl.", GlobalTags: []string{"env:test"}})
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestBackend_ForwardsWithSortedTags(t *testing.T) {
	t.Parallel()

	c := newRecordingClient()
	b := &Backend{client: c}

	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"table": "genre", "kind": "inserted", "job": "moviesetl"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.25, metrics.Labels{"step": "verify"})

	assert.Equal(t, int64(3), c.counts[metrics.RecordsTotal])
	assert.Equal(t, []string{"job:moviesetl", "kind:inserted", "table:genre"}, c.tags[0])
	assert.Equal(t, []float64{0.25}, c.histograms[metrics.StepDurationSeconds])

	require.NoError(t, b.Flush())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, c.flushed)
	assert.Equal(t, 1, c.closed)
}

func TestBackend_NilClientIsSafe(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.StepTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 1, nil)
	assert.NoError(t, b.Flush())
	assert.NoError(t, b.Close())
}

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	assert.Nil(t, labelsToTags(nil))
	assert.Equal(t, []string{"a:1", "b:2"}, labelsToTags(metrics.Labels{"b": "2", "a": "1"}))
}
