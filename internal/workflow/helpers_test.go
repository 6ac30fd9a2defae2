package workflow_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mautops/repair-gin/internal/auth"
	"github.com/mautops/repair-gin/internal/workflow"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// monitors 部门 -> 主管
type monitors map[string]string

func (m monitors) IsMonitor(ctx context.Context, userID, departmentID string) (bool, error) {
	return m[departmentID] == userID, nil
}

var fixedTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	engine  *workflow.Engine
	clock   time.Time
	ids     int
	repairs int
}

func newFixture(t *testing.T, mon monitors, opts ...workflow.Option) *fixture {
	t.Helper()
	f := &fixture{clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	logger, _ := test.NewNullLogger()
	base := []workflow.Option{
		workflow.WithClock(func() time.Time {
			f.clock = f.clock.Add(time.Minute)
			return f.clock
		}),
		workflow.WithStageIDs(func() string {
			f.ids++
			return fmt.Sprintf("stage-%d", f.ids)
		}),
	}
	f.engine = workflow.NewEngine(workflow.NewGuard(mon), workflow.NewTrail(logger), append(base, opts...)...)
	return f
}

func (f *fixture) newRepair(t *testing.T, p auth.Principal, in workflow.OpenInput) *workflow.Repair {
	t.Helper()
	f.repairs++
	r := workflow.NewRepair(fmt.Sprintf("r-%d", f.repairs), int64(f.repairs), f.clock)
	require.NoError(t, f.engine.Open(p, r, in))
	require.NoError(t, r.CheckInvariants())
	return r
}

func admin() auth.Principal {
	return auth.Principal{UserID: "admin", Role: "admin", Caps: auth.Resolve("admin", nil, nil)}
}

func technician(id, dept string) auth.Principal {
	return auth.Principal{UserID: id, Role: "technician", DepartmentID: dept, Caps: auth.Resolve("technician", nil, nil)}
}

func intakeClerk(id string) auth.Principal {
	return auth.Principal{
		UserID: id,
		Role:   "technician",
		Caps:   auth.Resolve("technician", map[string]interface{}{"receiveDevice": true}, nil),
	}
}

func countEvents(r *workflow.Repair, t workflow.EventType) int {
	n := 0
	for _, e := range r.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func ptr[T any](v T) *T {
	return &v
}

