package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Snapshot is the on-disk layout of the store.
type Snapshot struct {
	NextLink    int          `yaml:"next_link"`
	NextPackage int          `yaml:"next_package"`
	Packages    []PackageRow `yaml:"packages"`
	Links       []FileRow    `yaml:"links"`
}

// YAMLStore keeps rows in memory and rewrites a YAML file after every
// mutation.
type YAMLStore struct {
	*MemoryStore
	path    string
	writeMu sync.Mutex
}

func OpenYAMLStore(path string) (*YAMLStore, error) {
	s := &YAMLStore{MemoryStore: NewMemoryStore(), path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debug().Str("op", "store/yaml").Msgf("No store at %s, starting empty", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading store: %v", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("error parsing store %s: %v", path, err)
	}
	s.restore(snap)
	log.Debug().Str("op", "store/yaml").Msgf("Loaded %d packages and %d links from %s", len(snap.Packages), len(snap.Links), path)
	return s, nil
}

func (s *YAMLStore) Path() string {
	return s.path
}

func (s *YAMLStore) UpdateLink(row FileRow) error {
	if err := s.MemoryStore.UpdateLink(row); err != nil {
		return err
	}
	return s.flush()
}

func (s *YAMLStore) ReleaseLink(id int) {
	s.MemoryStore.ReleaseLink(id)
}

func (s *YAMLStore) DeleteLink(id int) error {
	if err := s.MemoryStore.DeleteLink(id); err != nil {
		return err
	}
	return s.flush()
}

func (s *YAMLStore) AddPackage(pkg PackageRow) (PackageRow, error) {
	pkg, err := s.MemoryStore.AddPackage(pkg)
	if err != nil {
		return pkg, err
	}
	return pkg, s.flush()
}

func (s *YAMLStore) AddLinks(packageID int, rows []FileRow) ([]FileRow, error) {
	added, err := s.MemoryStore.AddLinks(packageID, rows)
	if err != nil {
		return nil, err
	}
	return added, s.flush()
}

func (s *YAMLStore) UpdatePackage(pkg PackageRow) error {
	if err := s.MemoryStore.UpdatePackage(pkg); err != nil {
		return err
	}
	return s.flush()
}

// Marshal renders the current contents as YAML.
func (s *YAMLStore) Marshal() ([]byte, error) {
	return MarshalSnapshot(s.MemoryStore)
}

func MarshalSnapshot(s *MemoryStore) ([]byte, error) {
	return yaml.Marshal(s.snapshot())
}

func (s *YAMLStore) flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	data, err := yaml.Marshal(s.snapshot())
	if err != nil {
		return fmt.Errorf("error encoding store: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("error creating store directory: %v", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("error writing store: %v", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("error finalizing store: %v", err)
	}
	return nil
}
