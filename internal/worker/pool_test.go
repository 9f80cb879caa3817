package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/danzod/internal/events"
	"github.com/tanq16/danzod/internal/manager"
	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/store"
	"github.com/tanq16/danzod/internal/types"
)

type funcPlugin struct {
	fn    func(ctx context.Context, f plugin.File) error
	meter *plugin.Meter
}

func (p *funcPlugin) Process(ctx context.Context, f plugin.File) error { return p.fn(ctx, f) }
func (p *funcPlugin) Transfer() plugin.Transfer                        { return p.meter }

func register(t *testing.T, reg *plugin.Registry, name string, maxParallel int, fn func(ctx context.Context, f plugin.File) error) {
	t.Helper()
	require.NoError(t, reg.Register(plugin.Info{Name: name, MaxParallel: maxParallel}, func(f plugin.File, env plugin.Env) (plugin.Plugin, error) {
		return &funcPlugin{fn: fn, meter: plugin.NewMeter(f.Progress())}, nil
	}))
}

func newPool(t *testing.T, workers int, reg *plugin.Registry, limits map[string]int, links ...manager.Link) (*Pool, *manager.Manager, []int) {
	t.Helper()
	mgr := manager.New(store.NewMemoryStore(), events.NewBus(), manager.Options{})
	pkg, err := mgr.AddPackage(store.PackageRow{Name: "pkg", Queue: true})
	require.NoError(t, err)
	ids, err := mgr.AddLinks(pkg.ID, links)
	require.NoError(t, err)
	p := New(mgr, reg, plugin.Env{}, Options{Workers: workers, PollInterval: 10 * time.Millisecond, Limits: limits})
	return p, mgr, ids
}

func blocking(release chan struct{}) func(ctx context.Context, f plugin.File) error {
	return func(ctx context.Context, f plugin.File) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func status(t *testing.T, mgr *manager.Manager, id int) types.Status {
	t.Helper()
	rec, err := mgr.Record(id)
	require.NoError(t, err)
	return rec.Status
}

func TestAssignsLowestOrderFirst(t *testing.T) {
	release := make(chan struct{})
	reg := plugin.NewRegistry()
	register(t, reg, "http", 0, blocking(release))
	p, _, ids := newPool(t, 1, reg, nil,
		manager.Link{URL: "https://example.com/1", Plugin: "http"},
		manager.Link{URL: "https://example.com/2", Plugin: "http"},
	)

	p.dispatch(context.Background())
	assert.Equal(t, []int{ids[0]}, p.ProcessingIDs())
	assert.True(t, p.IsProcessing(ids[0]))
	assert.False(t, p.IsProcessing(ids[1]))
	close(release)
	p.wg.Wait()
}

func TestPackageOrderTakesPrecedence(t *testing.T) {
	release := make(chan struct{})
	reg := plugin.NewRegistry()
	register(t, reg, "http", 0, blocking(release))
	p, mgr, _ := newPool(t, 1, reg, nil, manager.Link{URL: "https://example.com/late", Plugin: "http"})

	urgent, err := mgr.AddPackage(store.PackageRow{Name: "urgent", Queue: true, Order: -1})
	require.NoError(t, err)
	ids, err := mgr.AddLinks(urgent.ID, []manager.Link{{URL: "https://example.com/now", Plugin: "http"}})
	require.NoError(t, err)

	p.dispatch(context.Background())
	assert.Equal(t, ids, p.ProcessingIDs())
	close(release)
	p.wg.Wait()
}

func TestPluginCeiling(t *testing.T) {
	release := make(chan struct{})
	reg := plugin.NewRegistry()
	register(t, reg, "http", 1, blocking(release))
	register(t, reg, "s3", 0, blocking(release))
	p, _, ids := newPool(t, 3, reg, nil,
		manager.Link{URL: "https://example.com/a", Plugin: "http"},
		manager.Link{URL: "https://example.com/b", Plugin: "http"},
		manager.Link{URL: "s3://bucket/c", Plugin: "s3"},
	)

	p.dispatch(context.Background())
	assert.Equal(t, []int{ids[0], ids[2]}, p.ProcessingIDs())
	close(release)
	p.wg.Wait()
}

func TestLimitOverride(t *testing.T) {
	release := make(chan struct{})
	reg := plugin.NewRegistry()
	register(t, reg, "http", 0, blocking(release))
	p, _, ids := newPool(t, 5, reg, map[string]int{"http": 2},
		manager.Link{URL: "https://example.com/a", Plugin: "http"},
		manager.Link{URL: "https://example.com/b", Plugin: "http"},
		manager.Link{URL: "https://example.com/c", Plugin: "http"},
	)
	p.dispatch(context.Background())
	assert.Equal(t, ids[:2], p.ProcessingIDs())
	close(release)
	p.wg.Wait()
}

func TestOutcomeMapping(t *testing.T) {
	reg := plugin.NewRegistry()
	register(t, reg, "ok", 0, func(ctx context.Context, f plugin.File) error { return nil })
	register(t, reg, "broken", 0, func(ctx context.Context, f plugin.File) error { return errors.New("connection reset") })
	register(t, reg, "aborts", 0, func(ctx context.Context, f plugin.File) error { return plugin.ErrAborted })
	register(t, reg, "busy", 0, func(ctx context.Context, f plugin.File) error {
		return &plugin.RetryError{Wait: time.Hour, Reason: "server busy"}
	})
	register(t, reg, "reconnect", 0, func(ctx context.Context, f plugin.File) error {
		return &plugin.RetryError{Wait: time.Hour, Reconnect: true, Reason: "ip blocked"}
	})
	register(t, reg, "panics", 0, func(ctx context.Context, f plugin.File) error { panic("boom") })

	p, mgr, ids := newPool(t, 10, reg, nil,
		manager.Link{URL: "u1", Plugin: "ok"},
		manager.Link{URL: "u2", Plugin: "broken"},
		manager.Link{URL: "u3", Plugin: "aborts"},
		manager.Link{URL: "u4", Plugin: "busy"},
		manager.Link{URL: "u5", Plugin: "reconnect"},
		manager.Link{URL: "u6", Plugin: "panics"},
		manager.Link{URL: "u7", Plugin: "missing"},
	)
	p.dispatch(context.Background())
	p.wg.Wait()
	assert.Empty(t, p.ProcessingIDs())

	assert.Equal(t, types.StatusFinished, status(t, mgr, ids[0]))
	rec, _ := mgr.Record(ids[0])
	assert.Equal(t, 100, rec.Progress)

	assert.Equal(t, types.StatusFailed, status(t, mgr, ids[1]))
	rec, _ = mgr.Record(ids[1])
	assert.Equal(t, "connection reset", rec.Error)

	assert.Equal(t, types.StatusAborted, status(t, mgr, ids[2]))
	assert.Equal(t, types.StatusWaiting, status(t, mgr, ids[3]))
	assert.Equal(t, types.StatusReconnected, status(t, mgr, ids[4]))
	row, err := mgr.Store().GetLink(ids[3])
	require.NoError(t, err)
	assert.True(t, row.WaitUntil.After(time.Now().Add(50*time.Minute)))
	assert.Equal(t, "server busy", row.Error)

	assert.Equal(t, types.StatusFailed, status(t, mgr, ids[5]))
	rec, _ = mgr.Record(ids[5])
	assert.Contains(t, rec.Error, "panic: boom")

	assert.Equal(t, types.StatusFailed, status(t, mgr, ids[6]))

	for _, id := range ids {
		_, cached := mgr.CachedFile(id)
		assert.False(t, cached, id)
	}
}

func TestDeferredFilesAreRequeuedWhenDue(t *testing.T) {
	reg := plugin.NewRegistry()
	register(t, reg, "http", 0, func(ctx context.Context, f plugin.File) error { return nil })
	p, mgr, ids := newPool(t, 1, reg, nil, manager.Link{URL: "u", Plugin: "http"})

	f, err := mgr.GetFile(ids[0])
	require.NoError(t, err)
	require.NoError(t, f.SetWaitUntil(time.Now().Add(time.Hour)))
	require.NoError(t, f.SetStatus("waiting"))

	_, ok := p.next()
	assert.False(t, ok)

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	row, ok := p.next()
	require.True(t, ok)
	assert.Equal(t, ids[0], row.ID)
	assert.Equal(t, types.StatusQueued, f.Status())
	assert.True(t, f.WaitUntil().IsZero())
}

func TestAbortDownloadStopsRunningTransfer(t *testing.T) {
	started := make(chan struct{})
	reg := plugin.NewRegistry()
	register(t, reg, "http", 0, func(ctx context.Context, f plugin.File) error {
		close(started)
		for !f.AbortRequested() {
			time.Sleep(time.Millisecond)
		}
		return plugin.ErrAborted
	})
	p, mgr, ids := newPool(t, 1, reg, nil, manager.Link{URL: "u", Plugin: "http"})
	p.dispatch(context.Background())
	<-started

	f, ok := mgr.CachedFile(ids[0])
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.AbortDownload(ctx))
	assert.False(t, p.IsProcessing(ids[0]))
	assert.Equal(t, types.StatusAborted, status(t, mgr, ids[0]))
	p.wg.Wait()
}

func TestAbortCancelsTransferStuckOnContext(t *testing.T) {
	started := make(chan struct{})
	reg := plugin.NewRegistry()
	// ignores the abort flag and only returns once its context is cancelled
	register(t, reg, "http", 0, func(ctx context.Context, f plugin.File) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	p, mgr, ids := newPool(t, 1, reg, nil, manager.Link{URL: "u", Plugin: "http"})
	p.dispatch(context.Background())
	<-started

	f, ok := mgr.CachedFile(ids[0])
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.AbortDownload(ctx))
	assert.False(t, p.IsProcessing(ids[0]))
	assert.Equal(t, types.StatusAborted, status(t, mgr, ids[0]))
	p.wg.Wait()
}

func TestWaitReleasedUnknownID(t *testing.T) {
	p, _, _ := newPool(t, 1, plugin.NewRegistry(), nil)
	assert.NoError(t, p.WaitReleased(context.Background(), 42))
}

func TestResize(t *testing.T) {
	release := make(chan struct{})
	reg := plugin.NewRegistry()
	register(t, reg, "http", 0, blocking(release))
	p, _, _ := newPool(t, 1, reg, nil,
		manager.Link{URL: "a", Plugin: "http"},
		manager.Link{URL: "b", Plugin: "http"},
		manager.Link{URL: "c", Plugin: "http"},
	)
	assert.Error(t, p.Resize(0))

	p.dispatch(context.Background())
	assert.Equal(t, 1, p.Active())
	require.NoError(t, p.Resize(3))
	assert.Equal(t, 3, p.Workers())
	p.dispatch(context.Background())
	assert.Equal(t, 3, p.Active())
	close(release)
	p.wg.Wait()
}

func TestRunUntilIdle(t *testing.T) {
	reg := plugin.NewRegistry()
	register(t, reg, "http", 0, func(ctx context.Context, f plugin.File) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	p, mgr, ids := newPool(t, 2, reg, nil,
		manager.Link{URL: "a", Plugin: "http"},
		manager.Link{URL: "b", Plugin: "http"},
		manager.Link{URL: "c", Plugin: "http"},
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.RunUntilIdle(ctx))
	for _, id := range ids {
		assert.Equal(t, types.StatusFinished, status(t, mgr, id))
	}
}

func TestRunShutdownRequeuesRunningFiles(t *testing.T) {
	started := make(chan struct{})
	reg := plugin.NewRegistry()
	register(t, reg, "http", 0, func(ctx context.Context, f plugin.File) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	p, mgr, ids := newPool(t, 1, reg, nil, manager.Link{URL: "a", Plugin: "http"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()
	<-started
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, types.StatusQueued, status(t, mgr, ids[0]))
	assert.Empty(t, p.ProcessingIDs())
}

func TestAliasSharesCeiling(t *testing.T) {
	release := make(chan struct{})
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Info{Name: "http", MaxParallel: 1, Aliases: []string{"https"}}, func(f plugin.File, env plugin.Env) (plugin.Plugin, error) {
		return &funcPlugin{fn: blocking(release), meter: plugin.NewMeter(f.Progress())}, nil
	}))
	p, _, ids := newPool(t, 3, reg, nil,
		manager.Link{URL: "https://example.com/a", Plugin: "https"},
		manager.Link{URL: "https://example.com/b", Plugin: "http"},
		manager.Link{URL: "https://example.com/c", Plugin: "HTTPS"},
	)

	p.dispatch(context.Background())
	assert.Equal(t, []int{ids[0]}, p.ProcessingIDs())
	close(release)
	p.wg.Wait()
}

func TestOutcomeEmitsOneEventPerTransition(t *testing.T) {
	for name, fn := range map[string]func(ctx context.Context, f plugin.File) error{
		"retry":  func(ctx context.Context, f plugin.File) error { return &plugin.RetryError{Wait: time.Hour, Reason: "busy"} },
		"failed": func(ctx context.Context, f plugin.File) error { return errors.New("boom") },
	} {
		t.Run(name, func(t *testing.T) {
			reg := plugin.NewRegistry()
			register(t, reg, "http", 0, fn)
			p, mgr, ids := newPool(t, 1, reg, nil, manager.Link{URL: "u", Plugin: "http"})
			sub := mgr.Bus().Subscribe()

			p.dispatch(context.Background())
			p.wg.Wait()
			count := 0
			for _, ev := range sub.Drain() {
				if ev.Type == events.TypeFile && ev.ID == ids[0] {
					count++
				}
			}
			// one for starting, one for the outcome
			assert.Equal(t, 2, count)
		})
	}
}
