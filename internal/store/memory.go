package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tanq16/danzod/internal/types"
)

type MemoryStore struct {
	mu       sync.RWMutex
	links    map[int]FileRow
	packages map[int]PackageRow
	released map[int]int
	nextLink int
	nextPkg  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links:    make(map[int]FileRow),
		packages: make(map[int]PackageRow),
		released: make(map[int]int),
		nextLink: 1,
		nextPkg:  1,
	}
}

func (s *MemoryStore) UpdateLink(row FileRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[row.ID]; !ok {
		return fmt.Errorf("link %d: %w", row.ID, ErrNotFound)
	}
	s.links[row.ID] = row
	return nil
}

// ReleaseLink records that the file left the in-memory cache.
func (s *MemoryStore) ReleaseLink(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released[id]++
}

// Releases returns how often a link was released from the cache.
func (s *MemoryStore) Releases(id int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released[id]
}

func (s *MemoryStore) DeleteLink(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[id]; !ok {
		return fmt.Errorf("link %d: %w", id, ErrNotFound)
	}
	delete(s.links, id)
	delete(s.released, id)
	return nil
}

func (s *MemoryStore) GetLink(id int) (FileRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.links[id]
	if !ok {
		return FileRow{}, fmt.Errorf("link %d: %w", id, ErrNotFound)
	}
	return row, nil
}

func (s *MemoryStore) Links() []FileRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]FileRow, 0, len(s.links))
	for _, row := range s.links {
		rows = append(rows, row)
	}
	sortRows(rows)
	return rows
}

// QueuedLinks returns queued or deferred links that belong to active packages.
func (s *MemoryStore) QueuedLinks() []FileRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []FileRow
	for _, row := range s.links {
		pkg, ok := s.packages[row.PackageID]
		if !ok || !pkg.Queue {
			continue
		}
		if row.Status == types.StatusQueued || row.Status.Deferred() {
			rows = append(rows, row)
		}
	}
	sortRows(rows)
	return rows
}

func (s *MemoryStore) AddPackage(pkg PackageRow) (PackageRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pkg.Name == "" {
		return PackageRow{}, fmt.Errorf("package name is empty")
	}
	pkg.ID = s.nextPkg
	s.nextPkg++
	s.packages[pkg.ID] = pkg
	return pkg, nil
}

// AddLinks assigns ids and orders to rows and appends them to the package.
func (s *MemoryStore) AddLinks(packageID int, rows []FileRow) ([]FileRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packages[packageID]; !ok {
		return nil, fmt.Errorf("package %d: %w", packageID, ErrNotFound)
	}
	order := 0
	for _, row := range s.links {
		if row.PackageID == packageID && row.Order >= order {
			order = row.Order + 1
		}
	}
	added := make([]FileRow, 0, len(rows))
	for _, row := range rows {
		row.ID = s.nextLink
		s.nextLink++
		row.PackageID = packageID
		row.Order = order
		order++
		s.links[row.ID] = row
		added = append(added, row)
	}
	return added, nil
}

func (s *MemoryStore) GetPackage(id int) (PackageRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkg, ok := s.packages[id]
	if !ok {
		return PackageRow{}, fmt.Errorf("package %d: %w", id, ErrNotFound)
	}
	return pkg, nil
}

func (s *MemoryStore) UpdatePackage(pkg PackageRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packages[pkg.ID]; !ok {
		return fmt.Errorf("package %d: %w", pkg.ID, ErrNotFound)
	}
	s.packages[pkg.ID] = pkg
	return nil
}

func (s *MemoryStore) Packages() []PackageRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkgs := make([]PackageRow, 0, len(s.packages))
	for _, pkg := range s.packages {
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		if pkgs[i].Order != pkgs[j].Order {
			return pkgs[i].Order < pkgs[j].Order
		}
		return pkgs[i].ID < pkgs[j].ID
	})
	return pkgs
}

func (s *MemoryStore) PackageLinks(packageID int) []FileRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []FileRow
	for _, row := range s.links {
		if row.PackageID == packageID {
			rows = append(rows, row)
		}
	}
	sortRows(rows)
	return rows
}

// snapshot copies the contents for persistence.
func (s *MemoryStore) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{NextLink: s.nextLink, NextPackage: s.nextPkg}
	for _, pkg := range s.packages {
		snap.Packages = append(snap.Packages, pkg)
	}
	for _, row := range s.links {
		snap.Links = append(snap.Links, row)
	}
	sort.Slice(snap.Packages, func(i, j int) bool { return snap.Packages[i].ID < snap.Packages[j].ID })
	sort.Slice(snap.Links, func(i, j int) bool { return snap.Links[i].ID < snap.Links[j].ID })
	return snap
}

func (s *MemoryStore) restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = make(map[int]FileRow, len(snap.Links))
	s.packages = make(map[int]PackageRow, len(snap.Packages))
	s.nextLink, s.nextPkg = 1, 1
	for _, pkg := range snap.Packages {
		s.packages[pkg.ID] = pkg
		s.nextPkg = max(s.nextPkg, pkg.ID+1)
	}
	for _, row := range snap.Links {
		s.links[row.ID] = row
		s.nextLink = max(s.nextLink, row.ID+1)
	}
	s.nextLink = max(s.nextLink, snap.NextLink)
	s.nextPkg = max(s.nextPkg, snap.NextPackage)
}

func sortRows(rows []FileRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PackageID != rows[j].PackageID {
			return rows[i].PackageID < rows[j].PackageID
		}
		if rows[i].Order != rows[j].Order {
			return rows[i].Order < rows[j].Order
		}
		return rows[i].ID < rows[j].ID
	})
}
