package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/manager"
	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/store"
	"github.com/tanq16/danzod/internal/types"
)

type Options struct {
	Workers      int
	PollInterval time.Duration
	// Limits overrides the per-plugin parallel ceiling of the registry.
	Limits map[string]int
}

type slot struct {
	plugin string
	done   chan struct{}
	cancel context.CancelFunc
}

// Pool assigns queued files to a bounded number of concurrent transfers.
// A single dispatcher claims files; each claimed file runs on its own
// goroutine until the plugin returns.
type Pool struct {
	mgr     *manager.Manager
	plugins *plugin.Registry
	env     plugin.Env

	mu      sync.Mutex
	workers int
	limits  map[string]int
	active  map[int]*slot

	dispatchMu sync.Mutex
	wake       chan struct{}
	poll       time.Duration
	wg         sync.WaitGroup
	now        func() time.Time
}

func New(mgr *manager.Manager, plugins *plugin.Registry, env plugin.Env, opts Options) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	p := &Pool{
		mgr:     mgr,
		plugins: plugins,
		env:     env,
		workers: opts.Workers,
		limits:  opts.Limits,
		active:  make(map[int]*slot),
		wake:    make(chan struct{}, 1),
		poll:    opts.PollInterval,
		now:     time.Now,
	}
	mgr.SetRegistry(p)
	return p
}

// Wake makes the dispatcher look for work without waiting for the ticker.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) IsProcessing(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[id]
	return ok
}

func (p *Pool) ProcessingIDs() []int {
	p.mu.Lock()
	ids := make([]int, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Ints(ids)
	return ids
}

// WaitReleased blocks until the file leaves processing or ctx is done.
func (p *Pool) WaitReleased(ctx context.Context, id int) error {
	p.mu.Lock()
	s, ok := p.active[id]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Resize changes the number of worker slots. Shrinking lets running
// transfers finish.
func (p *Pool) Resize(n int) error {
	if n < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", n)
	}
	p.mu.Lock()
	p.workers = n
	p.mu.Unlock()
	log.Info().Str("op", "worker/pool").Msgf("Worker pool resized to %d", n)
	p.Wake()
	return nil
}

// Run dispatches until ctx is done, then waits for running transfers.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		p.dispatch(ctx)
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// RunUntilIdle dispatches until nothing is processing and no queued or
// deferred file is left.
func (p *Pool) RunUntilIdle(ctx context.Context) error {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		p.dispatch(ctx)
		if p.Active() == 0 && len(p.mgr.Candidates()) == 0 {
			p.wg.Wait()
			return nil
		}
		select {
		case <-ctx.Done():
			p.shutdown()
			return ctx.Err()
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	ids := make([]int, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		if f, ok := p.mgr.CachedFile(id); ok {
			if pl := f.Plugin(); pl != nil {
				if tr := pl.Transfer(); tr != nil {
					tr.SetAbort(true)
				}
			}
		}
	}
	log.Debug().Str("op", "worker/pool").Msgf("Waiting for %d transfers to stop", len(ids))
	p.wg.Wait()
}

func (p *Pool) dispatch(ctx context.Context) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	for ctx.Err() == nil {
		p.mu.Lock()
		free := p.workers - len(p.active)
		p.mu.Unlock()
		if free <= 0 {
			return
		}
		row, ok := p.next()
		if !ok {
			return
		}
		p.start(ctx, row)
	}
}

// next picks the first eligible candidate by package order, file order and
// id. Deferred files whose wait elapsed are requeued on the way.
func (p *Pool) next() (store.FileRow, bool) {
	candidates := p.mgr.Candidates()
	if len(candidates) == 0 {
		return store.FileRow{}, false
	}
	pkgOrder := make(map[int]int)
	for _, pkg := range p.mgr.Store().Packages() {
		pkgOrder[pkg.ID] = pkg.Order
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if pkgOrder[a.PackageID] != pkgOrder[b.PackageID] {
			return pkgOrder[a.PackageID] < pkgOrder[b.PackageID]
		}
		if a.PackageID != b.PackageID {
			return a.PackageID < b.PackageID
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})

	now := p.now()
	p.mu.Lock()
	running := make(map[string]int)
	for _, s := range p.active {
		running[s.plugin]++
	}
	p.mu.Unlock()

	for _, row := range candidates {
		if p.IsProcessing(row.ID) {
			continue
		}
		if !row.WaitUntil.IsZero() && row.WaitUntil.After(now) {
			continue
		}
		name := p.pluginKey(row.Plugin)
		if limit := p.limit(row.Plugin); limit > 0 && running[name] >= limit {
			continue
		}
		if row.Status.Deferred() {
			if err := p.mgr.Requeue(row.ID); err != nil {
				log.Warn().Str("op", "worker/pool").Int("file", row.ID).Err(err).Msg("Failed to requeue file")
				continue
			}
			row.Status = types.StatusQueued
		}
		return row, true
	}
	return store.FileRow{}, false
}

// pluginKey folds aliases onto the registered name so that rows stored
// under "https" and "http" share one ceiling.
func (p *Pool) pluginKey(name string) string {
	if canonical, ok := p.plugins.Normalize(name); ok {
		return canonical
	}
	return name
}

func (p *Pool) limit(pluginName string) int {
	if n, ok := p.limits[pluginName]; ok {
		return n
	}
	name := p.pluginKey(pluginName)
	if n, ok := p.limits[name]; ok {
		return n
	}
	if info, ok := p.plugins.Info(name); ok {
		return info.MaxParallel
	}
	return 0
}

func (p *Pool) start(ctx context.Context, row store.FileRow) {
	fileCtx, cancel := context.WithCancel(ctx)
	name := p.pluginKey(row.Plugin)
	p.mu.Lock()
	p.active[row.ID] = &slot{plugin: name, done: make(chan struct{}), cancel: cancel}
	p.mu.Unlock()
	p.wg.Add(1)
	log.Debug().Str("op", "worker/pool").Int("file", row.ID).Msgf("Starting %s transfer", name)
	go p.process(ctx, fileCtx, row.ID)
}

// CancelTransfer cancels the context of a running transfer. Abort uses it
// so that a plugin stuck in a read returns without waiting for data.
func (p *Pool) CancelTransfer(id int) {
	p.mu.Lock()
	s, ok := p.active[id]
	p.mu.Unlock()
	if ok {
		s.cancel()
	}
}

func (p *Pool) unregister(id int) {
	p.mu.Lock()
	s, ok := p.active[id]
	delete(p.active, id)
	p.mu.Unlock()
	if ok {
		s.cancel()
		close(s.done)
	}
	p.Wake()
}

// process runs one file. fileCtx is what the plugin sees; ctx is the pool's
// own context and tells shutdown apart from a per-file cancel.
func (p *Pool) process(ctx, fileCtx context.Context, id int) {
	defer p.wg.Done()
	f, err := p.mgr.GetFile(id)
	if err != nil {
		log.Error().Str("op", "worker/pool").Int("file", id).Err(err).Msg("File vanished before processing")
		p.unregister(id)
		return
	}
	err = p.run(fileCtx, f)
	p.finish(ctx, f, err)
}

func (p *Pool) run(ctx context.Context, f *manager.File) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &plugin.TransferError{Plugin: f.PluginName(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := f.InitPlugin(p.plugins, p.env); err != nil {
		return err
	}
	if err := f.SetOutcome(types.StatusStarting, "", f.WaitUntil()); err != nil {
		return err
	}
	return f.Plugin().Process(ctx, f)
}

// finish maps the plugin outcome onto the file state. Transfers cut short by
// shutdown go back to the queue. The file leaves the registry last so that
// abort waiters see the final state.
func (p *Pool) finish(ctx context.Context, f *manager.File, err error) {
	id := f.ID()
	var retry *plugin.RetryError
	switch {
	case err == nil && !f.AbortRequested():
		p.unregister(id)
		f.FinishIfDone()
		log.Info().Str("op", "worker/pool").Int("file", id).Msg("Download finished")
		return
	case ctx.Err() != nil && !f.AbortRequested():
		f.SetStatusCode(types.StatusQueued)
		log.Debug().Str("op", "worker/pool").Int("file", id).Msg("Transfer interrupted by shutdown")
	case f.AbortRequested() || errors.Is(err, plugin.ErrAborted):
		f.SetStatusCode(types.StatusAborted)
		log.Info().Str("op", "worker/pool").Int("file", id).Msg("Download aborted")
	case errors.As(err, &retry):
		code := types.StatusWaiting
		if retry.Reconnect {
			code = types.StatusReconnected
		}
		f.SetOutcome(code, retry.Reason, p.now().Add(retry.Wait))
		log.Info().Str("op", "worker/pool").Int("file", id).Msgf("Retrying in %s: %s", retry.Wait, retry.Reason)
	default:
		f.SetOutcome(types.StatusFailed, err.Error(), f.WaitUntil())
		log.Error().Str("op", "worker/pool").Int("file", id).Err(err).Msg("Download failed")
	}
	f.Release()
	p.unregister(id)
}
