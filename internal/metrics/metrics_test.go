package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mautops/repair-gin/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeStatusCounter struct {
	counts map[string]int64
	err    error
}

func (f fakeStatusCounter) CountByStatus(context.Context) (map[string]int64, error) {
	return f.counts, f.err
}

type fakePendingCounter struct{ pending int64 }

func (f fakePendingCounter) CountPending(context.Context) (int64, error) {
	return f.pending, nil
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecorders(t *testing.T) {
	metrics.RecordAPIRequest("GET", "/api/v1/repairs", 200, 0.01)
	metrics.RecordAPIRequest("GET", "/api/v1/repairs", 599, 0.01)
	metrics.RecordRepairCreated()
	metrics.RecordFlowTransition("complete_step", "ok")
	metrics.RecordNotificationDispatch("sent")

	body := scrape(t)
	assert.Contains(t, body, "repairs_created_total")
	assert.Contains(t, body, `flow_transitions_total{action="complete_step",result="ok"}`)
	assert.Contains(t, body, `notifications_dispatched_total{result="sent"}`)
	assert.Contains(t, body, `status="599"`)
}

func TestUpdateDatabaseConnections_Nil(t *testing.T) {
	assert.Error(t, metrics.UpdateDatabaseConnections(nil))
}

func TestCollector_CollectOnce(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	c := metrics.NewCollector(db,
		fakeStatusCounter{counts: map[string]int64{"pending": 3}},
		fakePendingCounter{pending: 7},
		time.Hour, nil)
	c.CollectOnce(context.Background())

	body := scrape(t)
	assert.Contains(t, body, `repairs_by_status{status="pending"} 3`)
	assert.True(t, strings.Contains(body, "notification_outbox_pending 7"))
	assert.Contains(t, body, "database_connections_max")
}

func TestCollector_StartStop(t *testing.T) {
	c := metrics.NewCollector(nil, fakeStatusCounter{err: errors.New("down")}, nil, 10*time.Millisecond, nil)
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
}
