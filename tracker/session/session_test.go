package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hatcher/worktrack/pkg/ormx"
	"github.com/hatcher/worktrack/tracker/activity"
	"github.com/hatcher/worktrack/tracker/db"
	"github.com/hatcher/worktrack/tracker/project"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	queries *db.Queries
	clock   *testClock
	svc     Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gormDB, err := ormx.NewDBClient(ormx.DBConfig{
		DbType:             "sqlite",
		Database:           filepath.Join(t.TempDir(), "worktrack.db"),
		MaxOpenConnections: 1,
		MaxIdleConnections: 1,
	})
	require.NoError(t, err)
	queries := db.New(gormDB)
	clock := newTestClock()
	f := &fixture{queries: queries, clock: clock}
	f.svc = f.newService()
	t.Cleanup(f.svc.Shutdown)
	return f
}

// newService builds a fresh service over the same durable store, which is
// how the tests simulate a process restart.
func (f *fixture) newService() Service {
	return NewService(
		f.queries,
		activity.NewAccumulator(),
		project.NewResolver(f.queries, nil),
		WithClock(f.clock.Now),
		WithTouchInterval(0),
	)
}

func TestActiveWithoutSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	got, err := f.svc.Active(context.Background(), "default")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStartThenActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{AgentType: "coder"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, db.StatusActive, sess.Status)
	require.NotEmpty(t, sess.ProjectID)
	require.Equal(t, "coder", sess.AgentType)
	require.Equal(t, string(project.LevelDefault), sess.Metadata["project_resolution"])

	got, err := f.svc.Active(context.Background(), "default")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, sess.ID, got.ID)
}

func TestStartWithExplicitProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p, err := f.queries.CreateProject(context.Background(), db.CreateProjectArgs{Name: "projectA"})
	require.NoError(t, err)

	sess, err := f.svc.Start(context.Background(), StartArgs{ProjectID: p.ID})
	require.NoError(t, err)
	require.Equal(t, p.ID, sess.ProjectID)
	require.Equal(t, string(project.LevelExplicit), sess.Metadata["project_resolution"])
}

func TestRestartResilience(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	// memory gone, durable store survives
	restarted := f.newService()
	defer restarted.Shutdown()

	got, err := restarted.Active(context.Background(), "default")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, sess.ID, got.ID)
}

func TestInvalidatedPointerIsRestored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	f.svc.Invalidate("default")
	got, err := f.svc.Active(context.Background(), "default")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, sess.ID, got.ID)
}

func TestTokenAccumulationFlushedOnEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	require.NoError(t, f.svc.RecordTokenUsage(context.Background(), sess.ID, 100, 50))
	require.NoError(t, f.svc.RecordTokenUsage(context.Background(), sess.ID, 10, 5))
	require.NoError(t, f.svc.RecordTaskCreated(context.Background(), sess.ID))
	require.NoError(t, f.svc.RecordTaskUpdated(context.Background(), sess.ID, true))
	require.NoError(t, f.svc.RecordContextCreated(context.Background(), sess.ID))

	// counters live in memory only until the end-of-session flush
	row, err := f.queries.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Zero(t, row.TotalTokens)

	ended, err := f.svc.End(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, int64(110), ended.Tokens.Input)
	require.Equal(t, int64(55), ended.Tokens.Output)
	require.Equal(t, int64(165), ended.Tokens.Total)
	require.Equal(t, int64(1), ended.Activity.TasksCreated)
	require.Equal(t, int64(1), ended.Activity.TasksUpdated)
	require.Equal(t, int64(1), ended.Activity.TasksCompleted)
	require.Equal(t, int64(1), ended.Activity.ContextsCreated)
	require.Equal(t, db.StatusInactive, ended.Status)
	require.NotNil(t, ended.EndedAt)
}

func TestEndExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)
	require.NoError(t, f.svc.RecordTokenUsage(context.Background(), sess.ID, 10, 10))

	first, err := f.svc.End(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, int64(20), first.Tokens.Total)

	_, err = f.svc.End(context.Background(), sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	// the first write's counters survive the second call
	row, err := f.queries.GetSessionByID(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, int64(20), row.TotalTokens)
}

func TestEndUnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.End(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecordAgainstEndedSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)
	_, err = f.svc.End(context.Background(), sess.ID)
	require.NoError(t, err)

	err = f.svc.RecordTokenUsage(context.Background(), sess.ID, 1, 1)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConcurrentStartSingleWinner(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	const callers = 8

	var wg sync.WaitGroup
	ids := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := f.svc.Start(context.Background(), StartArgs{})
			ids[i], errs[i] = sess.ID, err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}

	open, err := f.queries.ListOpenSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, ids[0], open[0].ID)

	got, err := f.svc.Active(context.Background(), "default")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, ids[0], got.ID)
}

func TestStalePointerSelfHeals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	// the sweeper-style transition happens underneath the cached pointer
	changed, err := f.queries.FinishSession(context.Background(), db.FinishSessionArgs{
		ID:      sess.ID,
		EndedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, changed)

	got, err := f.svc.Active(context.Background(), "default")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAssignProjectManualOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	other, err := f.queries.CreateProject(context.Background(), db.CreateProjectArgs{Name: "other"})
	require.NoError(t, err)

	// changing the primary designation must not move the open session
	require.NoError(t, f.queries.SetPrimaryProject(context.Background(), other.ID))
	cur, err := f.svc.CurrentProject(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ProjectID, cur.ID)

	// while the primary surface reflects the change immediately
	primary, err := f.svc.PrimaryProject(context.Background())
	require.NoError(t, err)
	require.Equal(t, other.ID, primary.ID)

	// explicit reassignment is the only mover
	require.NoError(t, f.svc.AssignProject(context.Background(), sess.ID, other.ID))
	cur, err = f.svc.CurrentProject(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, other.ID, cur.ID)
}

func TestAssignProjectValidatesReference(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	err = f.svc.AssignProject(context.Background(), sess.ID, "missing")
	require.ErrorIs(t, err, db.ErrProjectNotFound)
}

func TestStatusMergesLiveCounters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{Title: "refactor"})
	require.NoError(t, err)
	require.NoError(t, f.svc.RecordTokenUsage(context.Background(), sess.ID, 40, 2))

	f.clock.Advance(10 * time.Minute)
	st, err := f.svc.Status(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, int64(42), st.Tokens.Total)
	require.Equal(t, project.DefaultProjectName, st.ProjectName)
	require.Equal(t, 10*time.Minute, st.Duration)
	require.Equal(t, db.StatusActive, st.Status)
}

func TestUpdateInfo(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateInfo(context.Background(), sess.ID, "title", "desc"))
	got, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, "title", got.Title)
	require.Equal(t, "desc", got.Description)

	_, err = f.svc.End(context.Background(), sess.ID)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.UpdateInfo(context.Background(), sess.ID, "x", "y"), ErrSessionNotFound)
}

func TestDisconnectIsTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Disconnect(context.Background(), sess.ID))
	got, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, db.StatusDisconnected, got.Status)

	_, err = f.svc.End(context.Background(), sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	active, err := f.svc.Active(context.Background(), "default")
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestDropSessionsInvalidatesPointer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sess, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	// simulate the sweeper's durable transition plus pointer drop
	_, err = f.queries.FinishSession(context.Background(), db.FinishSessionArgs{ID: sess.ID, EndedAt: f.clock.Now()})
	require.NoError(t, err)
	f.svc.DropSessions(sess.ID)

	got, err := f.svc.Active(context.Background(), "default")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListByKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)
	_, err = f.svc.End(context.Background(), first.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.svc.Start(context.Background(), StartArgs{})
	require.NoError(t, err)

	sessions, err := f.svc.ListByKey(context.Background(), "default", 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, second.ID, sessions[0].ID)
	require.Equal(t, first.ID, sessions[1].ID)
}
