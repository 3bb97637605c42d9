package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ObserveOutcome(t *testing.T) {
	r := New()

	r.ObserveOutcome("paid", decimal.NewFromInt(60))
	r.ObserveOutcome("paid", decimal.NewFromInt(40))
	r.ObserveOutcome("skipped", decimal.Zero)

	count, err := testutil.GatherAndCount(r.registry, "incentive_profiles_evaluated_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per outcome label")

	expected := `
# HELP incentive_bonus_paid_total Sum of incentive amounts credited to bonus wallets.
# TYPE incentive_bonus_paid_total counter
incentive_bonus_paid_total 100
`
	assert.NoError(t, testutil.GatherAndCompare(r.registry, strings.NewReader(expected), "incentive_bonus_paid_total"))
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.ObserveRun(1500 * time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "incentive_batch_duration_seconds_count 1")
}
