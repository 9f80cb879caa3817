package store

import (
	"errors"
	"time"

	"github.com/tanq16/danzod/internal/types"
)

var ErrNotFound = errors.New("not found")

// FileRow holds the persisted scalar fields of a file.
type FileRow struct {
	ID        int          `yaml:"id" json:"id"`
	URL       string       `yaml:"url" json:"url"`
	Name      string       `yaml:"name" json:"name"`
	Plugin    string       `yaml:"plugin" json:"plugin"`
	Size      int64        `yaml:"size" json:"size"`
	Status    types.Status `yaml:"status" json:"status"`
	Error     string       `yaml:"error,omitempty" json:"error,omitempty"`
	PackageID int          `yaml:"package" json:"package"`
	Order     int          `yaml:"order" json:"order"`
	WaitUntil time.Time    `yaml:"wait_until,omitempty" json:"wait_until,omitempty"`
}

type PackageRow struct {
	ID       int    `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Folder   string `yaml:"folder,omitempty" json:"folder,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Queue    bool   `yaml:"queue" json:"queue"`
	Order    int    `yaml:"order" json:"order"`
}

// Store is the persistence collaborator behind the file manager.
type Store interface {
	UpdateLink(row FileRow) error
	ReleaseLink(id int)
	DeleteLink(id int) error
	GetLink(id int) (FileRow, error)
	Links() []FileRow
	QueuedLinks() []FileRow

	AddPackage(pkg PackageRow) (PackageRow, error)
	AddLinks(packageID int, rows []FileRow) ([]FileRow, error)
	GetPackage(id int) (PackageRow, error)
	UpdatePackage(pkg PackageRow) error
	Packages() []PackageRow
	PackageLinks(packageID int) []FileRow
}
