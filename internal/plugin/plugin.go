package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tanq16/danzod/internal/captcha"
	"github.com/tanq16/danzod/internal/progress"
	"github.com/tanq16/danzod/internal/utils"
)

var (
	ErrAborted          = errors.New("download aborted")
	ErrPluginResolution = errors.New("plugin could not be resolved")
)

// File is the view a plugin gets of the file it is processing.
type File interface {
	ID() int
	URL() string
	Name() string
	SetName(name string) error
	SetSize(size int64)
	SetStatus(name string) error
	Progress() *progress.Tracker
	AbortRequested() bool
	Folder() string
	Password() string
}

// Transfer exposes the measurement hooks of a running download.
type Transfer interface {
	Speed() int64
	ETA() int64
	BytesLeft() int64
	Size() int64
	SetAbort(abort bool)
	Aborted() bool
}

// Plugin runs the download logic for a single file. Transfer may return nil
// before the transfer has started.
type Plugin interface {
	Process(ctx context.Context, f File) error
	Transfer() Transfer
}

// Env holds what factories need to build a plugin instance.
type Env struct {
	HTTP        utils.HTTPClientConfig
	DownloadDir string
	Captcha     *captcha.Coordinator
	S3Profile   string
	SSHKey      string
	GitDepth    int
	// Google Drive auth, an API key or an OAuth client with its cached token.
	DriveAPIKey      string
	DriveCredentials string
	DriveTokenFile   string
}

type Factory func(f File, env Env) (Plugin, error)

// RetryError asks the worker to park the file and try again after Wait.
type RetryError struct {
	Wait      time.Duration
	Reconnect bool
	Reason    string
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry in %s: %s", e.Wait, e.Reason)
}

// TransferError wraps a failure raised by a plugin.
type TransferError struct {
	Plugin string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Plugin, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

type ResolutionError struct {
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no plugin registered as %q", e.Name)
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrPluginResolution
}
