package danzohttp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/utils"
)

const Name = "http"

func Info() plugin.Info {
	return plugin.Info{
		Name:     Name,
		Patterns: []string{`^https?://`},
		Aliases:  []string{"https"},
	}
}

// Downloader fetches a single URL over one connection, resuming from the
// part file of an earlier attempt.
type Downloader struct {
	link       string
	client     *utils.DanzoHTTPClient
	meter      *plugin.Meter
	outputDir  string
	maxRetries int
	backoff    time.Duration
}

func New(f plugin.File, env plugin.Env) (plugin.Plugin, error) {
	d, err := NewLink(f.URL(), plugin.NewMeter(f.Progress()), env)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewLink builds a downloader for link that reports through meter. Plugins
// that resolve a direct link first hand the transfer over with it.
func NewLink(link string, meter *plugin.Meter, env plugin.Env) (*Downloader, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", parsed.Scheme)
	}
	return &Downloader{
		link:       link,
		client:     utils.NewDanzoHTTPClient(env.HTTP),
		meter:      meter,
		outputDir:  env.DownloadDir,
		maxRetries: 5,
		backoff:    500 * time.Millisecond,
	}, nil
}

func (d *Downloader) Transfer() plugin.Transfer {
	return d.meter
}

func (d *Downloader) Process(ctx context.Context, f plugin.File) error {
	info, err := getFileInfo(ctx, d.link, d.client)
	var retry *plugin.RetryError
	if errors.As(err, &retry) {
		return retry
	}
	if err != nil && !errors.Is(err, errRangeRequestsNotSupported) {
		log.Debug().Str("op", "http/downloader").Int("file", f.ID()).Err(err).Msg("HEAD request failed, continuing with GET")
	}
	if info.size > 0 {
		f.SetSize(info.size)
		d.meter.SetTotal(info.size)
	}

	name := f.Name()
	if name == "" {
		name = info.filename
	}
	if name == "" {
		name = nameFromURL(d.link)
	}
	if name != f.Name() {
		if err := f.SetName(name); err != nil {
			return err
		}
	}

	outputPath := filepath.Join(d.outputDir, f.Folder(), name)
	if existing, err := os.Stat(outputPath); err == nil {
		if info.size > 0 && existing.Size() == info.size {
			log.Info().Str("op", "http/downloader").Int("file", f.ID()).Msgf("%s already present, skipping", outputPath)
			d.meter.SetDone(info.size)
			return nil
		}
		outputPath = utils.RenewOutputPath(outputPath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %v", err)
	}
	if err := f.SetStatus("downloading"); err != nil {
		return err
	}
	return d.performSimpleDownload(ctx, f, outputPath)
}
