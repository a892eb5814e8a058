package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRewardCounters(t *testing.T) {
	XPAwarded.WithLabelValues("page_turn").Add(60)
	BadgesUnlocked.WithLabelValues("first_page").Inc()
	ObserveHTTP("/api/v1/reading-sessions/{id}/turn", http.MethodPost, 200, 15*time.Millisecond)

	assert.Equal(t, 60.0, testutil.ToFloat64(XPAwarded.WithLabelValues("page_turn")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `studentforge_badges_unlocked_total{badge="first_page"} 1`))
	assert.Contains(t, body, "studentforge_http_requests_total")
}
