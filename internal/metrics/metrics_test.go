package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(ViewLoadsTotal.WithLabelValues("details", "error"))
	RecordViewLoad("details", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(ViewLoadsTotal.WithLabelValues("details", "error")))

	before = testutil.ToFloat64(MutationsTotal.WithLabelValues("create_link", "ok"))
	RecordMutation("create_link", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(MutationsTotal.WithLabelValues("create_link", "ok")))

	RecordCatalogRefresh(nil, 42)
	assert.Equal(t, float64(42), testutil.ToFloat64(CatalogSize))
	RecordCatalogRefresh(errors.New("down"), 0)
	assert.Equal(t, float64(42), testutil.ToFloat64(CatalogSize), "failed refresh keeps the last size")

	before = testutil.ToFloat64(APICallsTotal.WithLabelValues("search", "200"))
	RecordAPICall("search", "200", 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(APICallsTotal.WithLabelValues("search", "200")))
}
