package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/events"
	"github.com/tanq16/danzod/internal/store"
	"github.com/tanq16/danzod/internal/types"
)

// ProcessingRegistry is the worker pool's view of which files it owns.
type ProcessingRegistry interface {
	IsProcessing(id int) bool
	ProcessingIDs() []int
}

// ReleaseWaiter is implemented by registries that can signal when a file
// leaves processing. Without it abort falls back to polling.
type ReleaseWaiter interface {
	WaitReleased(ctx context.Context, id int) error
}

// TransferCanceler is implemented by registries that run each transfer
// under its own context. Abort cancels it after raising the flags.
type TransferCanceler interface {
	CancelTransfer(id int)
}

type Options struct {
	// AbortPoll is the polling interval used when the registry offers no
	// release signal.
	AbortPoll time.Duration
}

// Link describes a file to add to a package.
type Link struct {
	URL    string
	Name   string
	Plugin string
	Size   int64
}

// Manager owns the cache of live files and mediates every state change
// between the store, the event bus and the worker pool.
type Manager struct {
	store     store.Store
	bus       *events.Bus
	mu        sync.Mutex
	cache     map[int]*File
	registry  ProcessingRegistry
	abortPoll time.Duration
}

func New(st store.Store, bus *events.Bus, opts Options) *Manager {
	if opts.AbortPoll <= 0 {
		opts.AbortPoll = 100 * time.Millisecond
	}
	return &Manager{
		store:     st,
		bus:       bus,
		cache:     make(map[int]*File),
		abortPoll: opts.AbortPoll,
	}
}

func (m *Manager) SetRegistry(r ProcessingRegistry) {
	m.mu.Lock()
	m.registry = r
	m.mu.Unlock()
}

func (m *Manager) Registry() ProcessingRegistry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry
}

func (m *Manager) Store() store.Store {
	return m.store
}

func (m *Manager) Bus() *events.Bus {
	return m.bus
}

func (m *Manager) isProcessing(id int) bool {
	r := m.Registry()
	return r != nil && r.IsProcessing(id)
}

// GetFile returns the cached file or materializes it from the store.
func (m *Manager) GetFile(id int) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.cache[id]; ok {
		return f, nil
	}
	row, err := m.store.GetLink(id)
	if err != nil {
		return nil, err
	}
	f := newFile(m, row)
	m.cache[id] = f
	return f, nil
}

func (m *Manager) CachedFile(id int) (*File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.cache[id]
	return f, ok
}

// CachedIDs lists the files currently held in memory.
func (m *Manager) CachedIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.cache))
	for id := range m.cache {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) evict(id int) {
	m.mu.Lock()
	delete(m.cache, id)
	m.mu.Unlock()
}

func (m *Manager) GetPackage(id int) (store.PackageRow, error) {
	return m.store.GetPackage(id)
}

func (m *Manager) AddPackage(pkg store.PackageRow) (store.PackageRow, error) {
	pkg, err := m.store.AddPackage(pkg)
	if err != nil {
		return pkg, fmt.Errorf("error adding package: %w", err)
	}
	m.bus.Emit(events.Event{Kind: events.KindInsert, Type: events.TypePackage, ID: pkg.ID, Bucket: bucketFor(pkg)})
	log.Debug().Str("op", "manager/manager").Msgf("Added package %d (%s)", pkg.ID, pkg.Name)
	return pkg, nil
}

// SetPackageQueue moves a package between the collector and the queue.
func (m *Manager) SetPackageQueue(id int, queue bool) error {
	pkg, err := m.store.GetPackage(id)
	if err != nil {
		return err
	}
	pkg.Queue = queue
	if err := m.store.UpdatePackage(pkg); err != nil {
		return err
	}
	m.bus.Emit(events.Event{Kind: events.KindReload, Type: events.TypePackage, ID: id, Bucket: bucketFor(pkg)})
	return nil
}

// AddLinks appends queued files to a package and returns their ids.
func (m *Manager) AddLinks(packageID int, links []Link) ([]int, error) {
	rows := make([]store.FileRow, 0, len(links))
	for _, l := range links {
		if l.URL == "" {
			return nil, fmt.Errorf("empty link in package %d", packageID)
		}
		rows = append(rows, store.FileRow{
			URL:    l.URL,
			Name:   l.Name,
			Plugin: l.Plugin,
			Size:   l.Size,
			Status: types.StatusQueued,
		})
	}
	added, err := m.store.AddLinks(packageID, rows)
	if err != nil {
		return nil, fmt.Errorf("error adding links: %w", err)
	}
	bucket := m.bucket(packageID)
	ids := make([]int, 0, len(added))
	for _, row := range added {
		ids = append(ids, row.ID)
		m.bus.Emit(events.Event{Kind: events.KindInsert, Type: events.TypeFile, ID: row.ID, Bucket: bucket})
	}
	return ids, nil
}

// Candidates returns the queued and deferred rows the pool may pick from.
func (m *Manager) Candidates() []store.FileRow {
	return m.store.QueuedLinks()
}

// Requeue puts a file back in the queue and clears its wait time.
func (m *Manager) Requeue(id int) error {
	f, err := m.GetFile(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.waitUntil = time.Time{}
	f.err = ""
	f.mu.Unlock()
	return f.SetStatusCode(types.StatusQueued)
}

// Records returns presentation records for every known file, using live
// values for cached files.
func (m *Manager) Records() types.Records {
	records := make(types.Records)
	for _, row := range m.store.Links() {
		if f, ok := m.CachedFile(row.ID); ok {
			records[row.ID] = f.Record()
			continue
		}
		records[row.ID] = recordFromRow(row)
	}
	return records
}

// Record returns the record of one file without caching it.
func (m *Manager) Record(id int) (types.Record, error) {
	if f, ok := m.CachedFile(id); ok {
		return f.Record(), nil
	}
	row, err := m.store.GetLink(id)
	if err != nil {
		return types.Record{}, err
	}
	return recordFromRow(row), nil
}

// Delete removes a file, aborting it first when a worker owns it.
func (m *Manager) Delete(ctx context.Context, id int) error {
	f, err := m.GetFile(id)
	if err != nil {
		return err
	}
	return f.Delete(ctx)
}

// DeleteFinished removes every finished file and returns how many went.
func (m *Manager) DeleteFinished(ctx context.Context) (int, error) {
	removed := 0
	for _, row := range m.store.Links() {
		if row.Status != types.StatusFinished {
			continue
		}
		if err := m.Delete(ctx, row.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) bucket(packageID int) string {
	pkg, err := m.store.GetPackage(packageID)
	if err != nil {
		log.Warn().Str("op", "manager/manager").Int("package", packageID).Err(err).Msg("Package lookup failed")
		return events.BucketCollector
	}
	return bucketFor(pkg)
}

func bucketFor(pkg store.PackageRow) string {
	if pkg.Queue {
		return events.BucketQueue
	}
	return events.BucketCollector
}

func recordFromRow(row store.FileRow) types.Record {
	pct := 0
	if row.Status.Complete() {
		pct = 100
	}
	return types.Record{
		ID:         row.ID,
		URL:        row.URL,
		Name:       row.Name,
		Plugin:     row.Plugin,
		Size:       row.Size,
		FormatSize: types.FormatSize(row.Size),
		Status:     row.Status,
		StatusMsg:  row.Status.Message(),
		Package:    row.PackageID,
		Error:      row.Error,
		Order:      row.Order,
		Progress:   pct,
	}
}
