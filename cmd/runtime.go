package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/captcha"
	"github.com/tanq16/danzod/internal/captcha/trader"
	"github.com/tanq16/danzod/internal/config"
	"github.com/tanq16/danzod/internal/downloaders/ghrelease"
	"github.com/tanq16/danzod/internal/downloaders/gitclone"
	"github.com/tanq16/danzod/internal/downloaders/gdrive"
	danzohttp "github.com/tanq16/danzod/internal/downloaders/http"
	"github.com/tanq16/danzod/internal/downloaders/m3u8"
	"github.com/tanq16/danzod/internal/downloaders/s3"
	"github.com/tanq16/danzod/internal/events"
	"github.com/tanq16/danzod/internal/manager"
	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/store"
	"github.com/tanq16/danzod/internal/worker"
)

// runtime is everything a command needs to drive downloads.
type runtime struct {
	store   *store.YAMLStore
	bus     *events.Bus
	mgr     *manager.Manager
	plugins *plugin.Registry
	coord   *captcha.Coordinator
	pool    *worker.Pool
}

func newPluginRegistry() (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	// detection runs in registration order, http last as the catch-all
	for _, p := range []struct {
		info    plugin.Info
		factory plugin.Factory
	}{
		{s3.Info(), s3.New},
		{gitclone.Info(), gitclone.New},
		{ghrelease.Info(), ghrelease.New},
		{gdrive.Info(), gdrive.New},
		{m3u8.Info(), m3u8.New},
		{danzohttp.Info(), danzohttp.New},
	} {
		if err := reg.Register(p.info, p.factory); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newCoordinator(c *config.Config) *captcha.Coordinator {
	coord := captcha.NewCoordinator(c.Captcha.Timeout)
	coord.Register(captcha.NewInteractive(coord, c.Captcha.Timeout))
	if c.Captcha.Trader.Enabled {
		client := trader.NewClient(c.TraderConfig(), c.HTTPClientConfig())
		coord.Register(trader.NewSolver(client, coord, c.Captcha.Trader.Force))
	}
	return coord
}

func newRuntime(c *config.Config) (*runtime, error) {
	if err := os.MkdirAll(filepath.Dir(c.StorePath), 0755); err != nil {
		return nil, fmt.Errorf("error creating store directory: %v", err)
	}
	st, err := store.OpenYAMLStore(c.StorePath)
	if err != nil {
		return nil, err
	}
	plugins, err := newPluginRegistry()
	if err != nil {
		return nil, err
	}
	bus := events.NewBus()
	mgr := manager.New(st, bus, manager.Options{})
	coord := newCoordinator(c)
	env := plugin.Env{
		HTTP:        c.HTTPClientConfig(),
		DownloadDir: c.DownloadDir,
		Captcha:     coord,
		S3Profile:   c.S3.Profile,
		SSHKey:      c.Git.SSHKey,
		GitDepth:    c.Git.Depth,

		DriveAPIKey:      c.GDrive.APIKey,
		DriveCredentials: c.GDrive.Credentials,
		DriveTokenFile:   c.GDrive.TokenFile,
	}
	pool := worker.New(mgr, plugins, env, worker.Options{
		Workers:      c.Workers,
		PollInterval: c.PollInterval,
		Limits:       c.PluginLimits,
	})
	log.Debug().Str("op", "cmd/runtime").Msgf("Runtime ready with store %s and %d workers", st.Path(), c.Workers)
	return &runtime{store: st, bus: bus, mgr: mgr, plugins: plugins, coord: coord, pool: pool}, nil
}

// newWorkerRuntime is newRuntime for the commands that own the pool. Only
// these recover interrupted rows, so a status or add next to a running
// server leaves its active rows alone.
func newWorkerRuntime(c *config.Config) (*runtime, error) {
	rt, err := newRuntime(c)
	if err != nil {
		return nil, err
	}
	recoverInterrupted(rt.mgr, rt.store)
	return rt, nil
}

// recoverInterrupted requeues files left in an active status by a process
// that exited mid-transfer.
func recoverInterrupted(mgr *manager.Manager, st store.Store) {
	for _, row := range st.Links() {
		if !row.Status.Active() {
			continue
		}
		if err := mgr.Requeue(row.ID); err != nil {
			log.Warn().Str("op", "cmd/runtime").Int("file", row.ID).Msgf("could not requeue: %v", err)
			continue
		}
		log.Info().Str("op", "cmd/runtime").Int("file", row.ID).Msg("Requeued interrupted download")
	}
}
