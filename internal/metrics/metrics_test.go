package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
	})
}

func TestBookingCounters(t *testing.T) {
	before := testutil.ToFloat64(bookingAttempts.WithLabelValues("committed"))
	IncBookingAttempt("committed")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingAttempts.WithLabelValues("committed")))

	beforeKind := testutil.ToFloat64(ruleViolations.WithLabelValues("DailyLimitExceeded"))
	IncViolation("DailyLimitExceeded")
	IncViolation("DailyLimitExceeded")
	assert.Equal(t, beforeKind+2, testutil.ToFloat64(ruleViolations.WithLabelValues("DailyLimitExceeded")))

	beforeSlots := testutil.ToFloat64(slotsGenerated)
	AddSlotsGenerated(12)
	assert.Equal(t, beforeSlots+12, testutil.ToFloat64(slotsGenerated))
}
