package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	danzohttp "github.com/tanq16/danzod/internal/downloaders/http"
	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/utils"
)

const Name = "gdrive"

func Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		MaxParallel: 2,
		Patterns:    []string{`^https://drive\.google\.com/`},
		Aliases:     []string{"google-drive", "drive"},
	}
}

// Downloader fetches a Drive file through the v3 API, or every file of a
// folder into a directory named after it.
type Downloader struct {
	fileID  string
	apiBase string
	env     plugin.Env
	meter   *plugin.Meter
}

func New(f plugin.File, env plugin.Env) (plugin.Plugin, error) {
	fileID, err := extractFileID(f.URL())
	if err != nil {
		return nil, err
	}
	if env.DriveAPIKey == "" && env.DriveCredentials == "" {
		return nil, fmt.Errorf("google drive needs an api key or oauth credentials")
	}
	return &Downloader{
		fileID:  fileID,
		apiBase: driveAPIURL,
		env:     env,
		meter:   plugin.NewMeter(f.Progress()),
	}, nil
}

func (d *Downloader) Transfer() plugin.Transfer {
	return d.meter
}

// clientEnv resolves auth into the HTTP config the transfer runs with.
func (d *Downloader) clientEnv(ctx context.Context) (plugin.Env, error) {
	env := d.env
	if env.DriveAPIKey != "" {
		return env, nil
	}
	token, err := accessToken(ctx, env.DriveCredentials, env.DriveTokenFile)
	if err != nil {
		return env, err
	}
	env.HTTP.BearerToken = token
	return env, nil
}

func (d *Downloader) Process(ctx context.Context, f plugin.File) error {
	env, err := d.clientEnv(ctx)
	if err != nil {
		return err
	}
	drive := api{base: d.apiBase, apiKey: env.DriveAPIKey, client: utils.NewDanzoHTTPClient(env.HTTP)}
	item, err := drive.metadata(ctx, d.fileID)
	if err != nil {
		return err
	}
	if f.Name() == "" {
		if err := f.SetName(item.Name); err != nil {
			return err
		}
	}
	if item.isFolder() {
		return d.downloadFolder(ctx, f, drive)
	}
	if item.exportOnly() {
		return fmt.Errorf("%s is a native Google document and has no binary content", item.Name)
	}
	if size := item.size(); size > 0 {
		f.SetSize(size)
		d.meter.SetTotal(size)
	}
	inner, err := danzohttp.NewLink(drive.mediaURL(d.fileID), d.meter, env)
	if err != nil {
		return err
	}
	return inner.Process(ctx, f)
}

func (d *Downloader) downloadFolder(ctx context.Context, f plugin.File, drive api) error {
	items, err := drive.listFolder(ctx, d.fileID)
	if err != nil {
		return err
	}
	var files []driveItem
	var totalSize int64
	for _, item := range items {
		if item.isFolder() || item.exportOnly() {
			log.Debug().Str("op", "gdrive/downloader").Int("file", f.ID()).Msgf("Skipping %s (%s)", item.Name, item.MimeType)
			continue
		}
		files = append(files, item)
		totalSize += item.size()
	}
	if len(files) == 0 {
		return fmt.Errorf("folder %s has no downloadable files", f.Name())
	}
	f.SetSize(totalSize)
	d.meter.SetTotal(totalSize)

	outputDir := filepath.Join(d.env.DownloadDir, f.Folder(), f.Name())
	if _, err := os.Stat(outputDir); err == nil {
		outputDir = utils.RenewOutputPath(outputDir)
	}
	if err := f.SetStatus("downloading"); err != nil {
		return err
	}
	for _, item := range files {
		if err := d.fetch(ctx, drive, item, filepath.Join(outputDir, item.Name)); err != nil {
			if d.meter.Aborted() {
				return plugin.ErrAborted
			}
			return fmt.Errorf("error downloading %s: %v", item.Name, err)
		}
	}
	log.Info().Str("op", "gdrive/downloader").Int("file", f.ID()).Msgf("Downloaded %d files into %s", len(files), outputDir)
	return nil
}

func (d *Downloader) fetch(ctx context.Context, drive api, item driveItem, outputPath string) error {
	if d.meter.Aborted() {
		return plugin.ErrAborted
	}
	partPath := utils.PartPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(partPath), 0755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, drive.mediaURL(item.ID), nil)
	if err != nil {
		return err
	}
	resp, err := drive.client.DoStream(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	out, err := os.Create(partPath)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, io.TeeReader(resp.Body, d.meter))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(partPath)
		return err
	}
	if err := os.Rename(partPath, outputPath); err != nil {
		return err
	}
	os.Remove(filepath.Dir(partPath))
	return nil
}
