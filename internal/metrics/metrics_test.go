package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lemmego/fluid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveOperation("articles", fluid.OperationSave, 2*time.Millisecond, nil)
	c.ObserveOperation("articles", fluid.OperationSave, time.Millisecond, nil)
	c.ObserveOperation("articles", fluid.OperationGet, time.Millisecond,
		fmt.Errorf("wrapped: %w", fluid.NewError(fluid.ErrorTypeNotFound, "missing")))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("articles", fluid.OperationSave, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("articles", fluid.OperationGet, "not_found")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.duration))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "hook", Outcome(fluid.NewError(fluid.ErrorTypeHook, "x")))
	assert.Equal(t, "error", Outcome(errors.New("plain")))
}

func TestHandler(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.ObserveOperation("articles", fluid.OperationCount, time.Millisecond, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fluid_operations_total{collection="articles",operation="count",outcome="ok"} 1`)
}
