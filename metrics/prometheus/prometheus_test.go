package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, WithNamespace("test"))
	require.NoError(t, err)

	c.RecordCommit(3, 10*time.Millisecond, nil)
	c.RecordCommit(0, time.Millisecond, errors.New("boom"))
	c.RecordSearch("hybrid", 10, 4, time.Millisecond, nil)
	c.RecordSearch("lexical", 10, 0, time.Millisecond, errors.New("bad"))
	c.RecordTask("high", time.Millisecond, nil)
	c.RecordQueueDepth(7)
	c.RecordMemoryPressure(200, 100)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.commits.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commits.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.rows))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.searches.WithLabelValues("hybrid", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.searches.WithLabelValues("lexical", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasks.WithLabelValues("high", "success")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pressure))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.memoryCeiling))

	n, err := testutil.GatherAndCount(reg, "test_operation_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}
