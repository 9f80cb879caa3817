package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/events"
	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/progress"
	"github.com/tanq16/danzod/internal/store"
	"github.com/tanq16/danzod/internal/types"
)

// File is the live state of one download. A plugin instance exists only
// while a worker owns the file.
type File struct {
	m *Manager

	mu         sync.RWMutex
	id         int
	url        string
	name       string
	pluginName string
	size       int64
	status     types.Status
	packageID  int
	err        string
	order      int
	waitUntil  time.Time
	plugin     plugin.Plugin

	abort    atomic.Bool
	progress *progress.Tracker
}

func newFile(m *Manager, row store.FileRow) *File {
	f := &File{
		m:          m,
		id:         row.ID,
		url:        row.URL,
		name:       row.Name,
		pluginName: row.Plugin,
		size:       row.Size,
		status:     row.Status,
		packageID:  row.PackageID,
		err:        row.Error,
		order:      row.Order,
		waitUntil:  row.WaitUntil,
	}
	f.progress = progress.NewTracker(f.NotifyChange)
	if row.Status.Complete() {
		f.progress.SetSilent(100)
	}
	return f
}

func (f *File) ID() int { return f.id }

func (f *File) URL() string { return f.url }

func (f *File) PluginName() string { return f.pluginName }

func (f *File) PackageID() int { return f.packageID }

func (f *File) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

func (f *File) Status() types.Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

func (f *File) Order() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.order
}

// ErrorMessage is the last failure recorded on the file.
func (f *File) ErrorMessage() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

func (f *File) WaitUntil() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.waitUntil
}

func (f *File) Progress() *progress.Tracker { return f.progress }

func (f *File) AbortRequested() bool { return f.abort.Load() }

func (f *File) Folder() string {
	pkg, err := f.m.store.GetPackage(f.packageID)
	if err != nil {
		return ""
	}
	return pkg.Folder
}

func (f *File) Password() string {
	pkg, err := f.m.store.GetPackage(f.packageID)
	if err != nil {
		return ""
	}
	return pkg.Password
}

// SetStatus parses the name, stores the code and emits exactly one update.
// Complete states force progress to 100 without a separate event.
func (f *File) SetStatus(name string) error {
	code, err := types.ParseStatus(name)
	if err != nil {
		return err
	}
	return f.SetStatusCode(code)
}

func (f *File) SetStatusCode(code types.Status) error {
	if !code.Valid() {
		return fmt.Errorf("%w: %d", types.ErrUnknownStatus, int(code))
	}
	f.mu.Lock()
	f.status = code
	f.mu.Unlock()
	if code.Complete() {
		f.progress.SetSilent(100)
	}
	err := f.Sync()
	f.NotifyChange()
	return err
}

func (f *File) HasStatus(name string) bool {
	code, err := types.ParseStatus(name)
	if err != nil {
		return false
	}
	return f.Status() == code
}

func (f *File) SetName(name string) error {
	f.mu.Lock()
	f.name = name
	f.mu.Unlock()
	err := f.Sync()
	f.NotifyChange()
	return err
}

// SetSize records the size a plugin declared for the file.
func (f *File) SetSize(size int64) {
	f.mu.Lock()
	f.size = size
	f.mu.Unlock()
	f.Sync()
	f.NotifyChange()
}

func (f *File) SetError(msg string) error {
	f.mu.Lock()
	f.err = msg
	f.mu.Unlock()
	err := f.Sync()
	f.NotifyChange()
	return err
}

func (f *File) SetWaitUntil(t time.Time) error {
	f.mu.Lock()
	f.waitUntil = t
	f.mu.Unlock()
	err := f.Sync()
	f.NotifyChange()
	return err
}

// SetOutcome stores status, error and wait time together and emits a
// single update, so a worker outcome costs one store write and one event.
func (f *File) SetOutcome(code types.Status, msg string, waitUntil time.Time) error {
	if !code.Valid() {
		return fmt.Errorf("%w: %d", types.ErrUnknownStatus, int(code))
	}
	f.mu.Lock()
	f.status = code
	f.err = msg
	f.waitUntil = waitUntil
	f.mu.Unlock()
	if code.Complete() {
		f.progress.SetSilent(100)
	}
	err := f.Sync()
	f.NotifyChange()
	return err
}

func (f *File) row() store.FileRow {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return store.FileRow{
		ID:        f.id,
		URL:       f.url,
		Name:      f.name,
		Plugin:    f.pluginName,
		Size:      f.size,
		Status:    f.status,
		Error:     f.err,
		PackageID: f.packageID,
		Order:     f.order,
		WaitUntil: f.waitUntil,
	}
}

// Sync writes the file's scalar fields to the store.
func (f *File) Sync() error {
	if err := f.m.store.UpdateLink(f.row()); err != nil {
		log.Error().Str("op", "manager/file").Int("file", f.id).Err(err).Msg("Failed to sync file")
		return err
	}
	return nil
}

// Release syncs the file, drops its plugin and evicts it from the cache.
func (f *File) Release() {
	f.Sync()
	f.mu.Lock()
	f.plugin = nil
	f.mu.Unlock()
	f.m.evict(f.id)
	f.m.store.ReleaseLink(f.id)
}

// Delete aborts a running transfer and removes the file for good.
func (f *File) Delete(ctx context.Context) error {
	if f.m.isProcessing(f.id) {
		if err := f.AbortDownload(ctx); err != nil {
			return err
		}
	}
	bucket := f.m.bucket(f.packageID)
	f.m.evict(f.id)
	if err := f.m.store.DeleteLink(f.id); err != nil {
		return err
	}
	f.m.bus.Remove(events.TypeFile, f.id, bucket)
	log.Debug().Str("op", "manager/file").Int("file", f.id).Msg("File deleted")
	return nil
}

// FinishIfDone marks the file finished and releases it unless a worker
// still owns it.
func (f *File) FinishIfDone() bool {
	if f.m.isProcessing(f.id) {
		return false
	}
	f.SetStatusCode(types.StatusFinished)
	f.Release()
	return true
}

// AbortDownload asks the running transfer to stop and waits until the worker
// lets go of the file, then clears the flags and releases it.
func (f *File) AbortDownload(ctx context.Context) error {
	if reg := f.m.Registry(); reg != nil && reg.IsProcessing(f.id) {
		if tr := f.transfer(); tr != nil {
			tr.SetAbort(true)
		}
		f.abort.Store(true)
		if c, ok := reg.(TransferCanceler); ok {
			c.CancelTransfer(f.id)
		}
		log.Info().Str("op", "manager/file").Int("file", f.id).Msg("Aborting download")
		if err := f.waitReleased(ctx, reg); err != nil {
			return fmt.Errorf("abort of file %d: %w", f.id, err)
		}
	}
	f.abort.Store(false)
	if tr := f.transfer(); tr != nil {
		tr.SetAbort(false)
	}
	f.Release()
	return nil
}

func (f *File) waitReleased(ctx context.Context, reg ProcessingRegistry) error {
	if waiter, ok := reg.(ReleaseWaiter); ok {
		return waiter.WaitReleased(ctx, f.id)
	}
	ticker := time.NewTicker(f.m.abortPoll)
	defer ticker.Stop()
	for reg.IsProcessing(f.id) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// InitPlugin instantiates the file's plugin once.
func (f *File) InitPlugin(reg *plugin.Registry, env plugin.Env) error {
	f.mu.RLock()
	existing := f.plugin
	f.mu.RUnlock()
	if existing != nil {
		return nil
	}
	factory, err := reg.Resolve(f.pluginName)
	if err != nil {
		return err
	}
	p, err := factory(f, env)
	if err != nil {
		return &plugin.TransferError{Plugin: f.pluginName, Err: err}
	}
	if p == nil {
		return &plugin.TransferError{Plugin: f.pluginName, Err: errors.New("factory returned no plugin")}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.plugin == nil {
		f.plugin = p
	}
	return nil
}

func (f *File) Plugin() plugin.Plugin {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.plugin
}

func (f *File) transfer() plugin.Transfer {
	p := f.Plugin()
	if p == nil {
		return nil
	}
	return p.Transfer()
}

// Size prefers the declared size and falls back to the transfer's.
func (f *File) Size() int64 {
	f.mu.RLock()
	size := f.size
	f.mu.RUnlock()
	if size > 0 {
		return size
	}
	if tr := f.transfer(); tr != nil {
		return tr.Size()
	}
	return 0
}

func (f *File) Speed() int64 {
	if tr := f.transfer(); tr != nil {
		return tr.Speed()
	}
	return 0
}

func (f *File) ETA() int64 {
	if tr := f.transfer(); tr != nil {
		return tr.ETA()
	}
	return 0
}

func (f *File) BytesLeft() int64 {
	if tr := f.transfer(); tr != nil {
		return tr.BytesLeft()
	}
	return 0
}

func (f *File) FormatETA() string {
	return types.FormatDuration(float64(f.ETA()))
}

// FormatWait renders the time left until the file may be retried.
func (f *File) FormatWait() string {
	return types.FormatDuration(time.Until(f.WaitUntil()).Seconds())
}

func (f *File) Record() types.Record {
	size := f.Size()
	f.mu.RLock()
	defer f.mu.RUnlock()
	return types.Record{
		ID:         f.id,
		URL:        f.url,
		Name:       f.name,
		Plugin:     f.pluginName,
		Size:       size,
		FormatSize: types.FormatSize(size),
		Status:     f.status,
		StatusMsg:  f.status.Message(),
		Package:    f.packageID,
		Error:      f.err,
		Order:      f.order,
		Progress:   f.progress.Percent(),
	}
}

// NotifyChange emits an update event in the bucket of the file's package.
func (f *File) NotifyChange() {
	f.m.bus.Update(events.TypeFile, f.id, f.m.bucket(f.packageID))
}
