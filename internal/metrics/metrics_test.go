package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory Backend for tests.
type fakeBackend struct {
	mu         sync.Mutex
	counters   []call
	histograms []call
	flushes    int
	flushErr   error
}

type call struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, call{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histograms = append(f.histograms, call{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.flushErr
}

func install(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{}
	SetBackend(fb)
	t.Cleanup(Reset)
	return fb
}

func TestRecordStep(t *testing.T) {
	fb := install(t)

	RecordStep("moviesetl", "load:genre", nil, 2*time.Second)
	RecordStep("moviesetl", "verify", errors.New("mismatch"), 1500*time.Millisecond)

	require.Len(t, fb.counters, 2)
	require.Len(t, fb.histograms, 2)

	assert.Equal(t, call{StepTotal, 1, Labels{"job": "moviesetl", "step": "load:genre", "status": "success"}}, fb.counters[0])
	assert.Equal(t, "failure", fb.counters[1].labels["status"])
	assert.Equal(t, StepDurationSeconds, fb.histograms[1].name)
	assert.InDelta(t, 1.5, fb.histograms[1].value, 1e-9)
}

func TestRecordRowAndBatches_SkipNonPositive(t *testing.T) {
	fb := install(t)

	RecordRow("moviesetl", "person", RowsInserted, 0)
	RecordRow("moviesetl", "person", RowsSkipped, -1)
	RecordBatches("moviesetl", "person", 0)
	assert.Empty(t, fb.counters)

	RecordRow("moviesetl", "person", RowsInserted, 250)
	RecordBatches("moviesetl", "person", 3)
	require.Len(t, fb.counters, 2)
	assert.Equal(t, call{RecordsTotal, 250, Labels{"job": "moviesetl", "table": "person", "kind": "inserted"}}, fb.counters[0])
	assert.Equal(t, call{BatchesTotal, 3, Labels{"job": "moviesetl", "table": "person"}}, fb.counters[1])
}

func TestSetBackend_NilKeepsCurrent(t *testing.T) {
	fb := install(t)
	fb.flushErr = errors.New("push failed")

	SetBackend(nil)
	assert.EqualError(t, Flush(), "push failed")
	assert.Equal(t, 1, fb.flushes)

	Reset()
	assert.NoError(t, Flush())
}
