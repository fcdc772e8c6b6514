package dashboard

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/resqview/internal/failure"
	"github.com/nadmax/resqview/internal/queue"
	"github.com/nadmax/resqview/internal/stats"
	"github.com/nadmax/resqview/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDashboard(t *testing.T, pageSize int) (*Dashboard, *queue.Runtime, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	s, err := store.Open(store.Options{Addr: mr.Addr(), Namespace: "resque"})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
		mr.Close()
	})

	runtime := queue.NewRuntime(s)
	failures := failure.NewIndex(s, runtime)
	dash := NewDashboard(s, runtime, failures, stats.NewExporter(runtime, "resque"), pageSize)

	return dash, runtime, mr
}

func seedFailure(t *testing.T, mr *miniredis.Miniredis, queueName, exception string, seq int) {
	rec := &failure.Record{
		Queue:     queueName,
		Exception: exception,
		Error:     fmt.Sprintf("failure %d", seq),
		Payload:   queue.Job{Class: "Job"},
	}
	data, err := rec.ToJSON()
	require.NoError(t, err)
	_, err = mr.Push("resque:failed", data)
	require.NoError(t, err)
}

func TestNewDashboard_DefaultPageSize(t *testing.T) {
	dash, _, _ := setupTestDashboard(t, 0)
	assert.Equal(t, int64(store.DefaultPageSize), dash.PageSize())
}

func TestOverview(t *testing.T) {
	dash, runtime, mr := setupTestDashboard(t, 20)
	ctx := context.Background()

	require.NoError(t, runtime.Push(ctx, "default", queue.Job{Class: "Work"}))
	seedFailure(t, mr, "default", "RuntimeError", 0)
	_, err := mr.SetAdd("resque:workers", "web1:1:default")
	require.NoError(t, err)
	require.NoError(t, mr.Set("resque:worker:web1:1:default", `{"queue":"default","run_at":"now","payload":{"class":"Work","args":[]}}`))

	view, err := dash.Overview(ctx)
	require.NoError(t, err)

	assert.Equal(t, []queue.QueueSize{{Name: "default", Size: 1}}, view.Queues)
	assert.Equal(t, int64(1), view.FailedCount)
	require.Len(t, view.Working, 1)
	assert.Equal(t, "web1", view.Working[0].Host)
	assert.Equal(t, int64(1), view.Info.Pending)
	assert.NotZero(t, view.LastUpdated)
}

func TestQueue_Pagination(t *testing.T) {
	dash, runtime, _ := setupTestDashboard(t, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, runtime.Push(ctx, "default", queue.Job{Class: fmt.Sprintf("Job%d", i)}))
	}

	view, err := dash.Queue(ctx, "default", 2)
	require.NoError(t, err)

	require.Len(t, view.Jobs, 2)
	assert.Equal(t, "Job2", view.Jobs[0].Class)
	assert.Equal(t, int64(5), view.Pager.Total)
	assert.True(t, view.Pager.HasPrev())
	assert.True(t, view.Pager.HasNext())
	assert.Equal(t, int64(4), view.Pager.NextStart())
	assert.Equal(t, int64(3), view.Pager.First())
	assert.Equal(t, int64(4), view.Pager.Last())
}

func TestWorkersAndWorking(t *testing.T) {
	dash, _, mr := setupTestDashboard(t, 20)
	ctx := context.Background()

	for _, id := range []string{"web1:1:default", "web1:2:default", "web2:1:mail"} {
		_, err := mr.SetAdd("resque:workers", id)
		require.NoError(t, err)
	}
	require.NoError(t, mr.Set("resque:worker:web2:1:mail", `{"queue":"mail","run_at":"now","payload":{"class":"Mail","args":[]}}`))

	workers, err := dash.Workers(ctx)
	require.NoError(t, err)
	assert.Len(t, workers.Workers, 3)
	assert.Len(t, workers.Hosts, 2)

	working, err := dash.Working(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), working.Total)
	require.Len(t, working.Working, 1)
	assert.Equal(t, "web2:1:mail", working.Working[0].ID)

	w, err := dash.Worker(ctx, "web2:1:mail")
	require.NoError(t, err)
	assert.True(t, w.Working())
}

func TestFailed(t *testing.T) {
	dash, _, mr := setupTestDashboard(t, 2)
	ctx := context.Background()

	seedFailure(t, mr, "A", "E1", 0)
	seedFailure(t, mr, "A", "E1", 1)
	seedFailure(t, mr, "B", "E2", 2)

	view, err := dash.Failed(ctx, 0)
	require.NoError(t, err)

	require.Len(t, view.Records, 2)
	assert.Equal(t, int64(3), view.Pager.Total)
	assert.True(t, view.Pager.HasNext())
	assert.Equal(t, []GroupCount{{Key: "A", Count: 2}, {Key: "B", Count: 1}}, view.Queues)

	next, err := dash.Failed(ctx, view.Pager.NextStart())
	require.NoError(t, err)
	require.Len(t, next.Records, 1)
	assert.Equal(t, int64(2), next.Records[0].Index)
	assert.False(t, next.Pager.HasNext())
}

func TestFailedByQueue(t *testing.T) {
	dash, _, mr := setupTestDashboard(t, 20)
	ctx := context.Background()

	seedFailure(t, mr, "A", "E1", 0)
	seedFailure(t, mr, "B", "E1", 1)
	seedFailure(t, mr, "A", "E2", 2)
	seedFailure(t, mr, "A", "E1", 3)

	view, err := dash.FailedByQueue(ctx, "A", 0)
	require.NoError(t, err)

	assert.Equal(t, "A", view.Queue)
	assert.Equal(t, int64(3), view.Pager.Total)
	assert.Equal(t, []GroupCount{{Key: "E1", Count: 2}, {Key: "E2", Count: 1}}, view.Exceptions)
	require.Len(t, view.Records, 3)
	assert.Equal(t, []int64{0, 3, 2}, []int64{view.Records[0].Index, view.Records[1].Index, view.Records[2].Index})
}

func TestFailedByException(t *testing.T) {
	dash, _, mr := setupTestDashboard(t, 20)
	ctx := context.Background()

	seedFailure(t, mr, "A", "E1", 0)
	seedFailure(t, mr, "A", "E2", 1)
	seedFailure(t, mr, "A", "E1", 2)

	view, err := dash.FailedByException(ctx, "A", "E1", 0)
	require.NoError(t, err)
	assert.Equal(t, "E1", view.Exception)
	assert.Equal(t, int64(2), view.Pager.Total)
	require.Len(t, view.Records, 2)

	missing, err := dash.FailedByException(ctx, "A", "NoSuchError", 0)
	require.NoError(t, err)
	assert.Empty(t, missing.Records)
	assert.Zero(t, missing.Pager.Total)

	unknownQueue, err := dash.FailedByQueue(ctx, "nope", 0)
	require.NoError(t, err)
	assert.Empty(t, unknownQueue.Records)
	assert.Empty(t, unknownQueue.Exceptions)
}

func TestKeysAndKey(t *testing.T) {
	dash, runtime, mr := setupTestDashboard(t, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, runtime.Push(ctx, "default", queue.Job{Class: fmt.Sprintf("Job%d", i)}))
	}
	require.NoError(t, mr.Set("resque:stat:processed", "12345"))

	keys, err := dash.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []KeyInfo{
		{Name: "queue:default", Type: store.KeyList, Size: 5},
		{Name: "queues", Type: store.KeySet, Size: 1},
		{Name: "stat:processed", Type: store.KeyString, Size: 5},
	}, keys.Keys)

	list, err := dash.Key(ctx, "queue:default", 0)
	require.NoError(t, err)
	assert.Len(t, list.Items, 3)
	assert.True(t, list.Pager.HasNext())
	assert.Equal(t, int64(3), list.Pager.NextStart())

	str, err := dash.Key(ctx, "stat:processed", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"12345"}, str.Items)
	assert.False(t, str.Pager.HasNext())

	absent, err := dash.Key(ctx, "nothing", 0)
	require.NoError(t, err)
	assert.Equal(t, store.KeyNone, absent.Type)
	assert.Zero(t, absent.Size)
	assert.Empty(t, absent.Items)
}

func TestStatsText(t *testing.T) {
	dash, runtime, _ := setupTestDashboard(t, 20)
	ctx := context.Background()

	require.NoError(t, runtime.Push(ctx, "default", queue.Job{Class: "Work"}))

	text, err := dash.StatsText(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "resque.pending=1")
	assert.Contains(t, text, "queues.default=1")
}

func TestDashboard_StoreUnavailable(t *testing.T) {
	dash, _, mr := setupTestDashboard(t, 20)
	ctx := context.Background()
	mr.Close()

	_, err := dash.Overview(ctx)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, err = dash.Failed(ctx, 0)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, err = dash.FailedByQueue(ctx, "A", 0)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, err = dash.Keys(ctx)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestPager(t *testing.T) {
	p := NewPager(-5, 20, 0, 0)
	assert.Equal(t, int64(0), p.Start)
	assert.Equal(t, int64(0), p.First())
	assert.False(t, p.HasPrev())
	assert.False(t, p.HasNext())

	p = NewPager(10, 20, 100, 20)
	assert.Equal(t, int64(0), p.PrevStart())
	assert.Equal(t, int64(30), p.NextStart())
}
