package m3u8

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/utils"
)

const Name = "m3u8"

func Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		MaxParallel: 2,
		Patterns:    []string{`^m3u8://`, `\.m3u8(\?.*)?$`},
		Aliases:     []string{"hls"},
	}
}

// Downloader fetches every segment of an HLS playlist in order and appends
// them into one transport stream.
type Downloader struct {
	manifestURL string
	client      *utils.DanzoHTTPClient
	meter       *plugin.Meter
	outputDir   string
}

func New(f plugin.File, env plugin.Env) (plugin.Plugin, error) {
	manifestURL, err := parseM3U8URL(f.URL())
	if err != nil {
		return nil, err
	}
	return &Downloader{
		manifestURL: manifestURL,
		client:      utils.NewDanzoHTTPClient(env.HTTP),
		meter:       plugin.NewMeter(f.Progress()),
		outputDir:   env.DownloadDir,
	}, nil
}

func (d *Downloader) Transfer() plugin.Transfer {
	return d.meter
}

func (d *Downloader) Process(ctx context.Context, f plugin.File) error {
	content, err := getM3U8Contents(ctx, d.manifestURL, d.client)
	if err != nil {
		return err
	}
	segments, err := segmentURLs(ctx, content, d.manifestURL, d.client, 0)
	if err != nil {
		return err
	}
	log.Debug().Str("op", "m3u8/downloader").Int("file", f.ID()).Msgf("Found %d segments", len(segments))

	name := f.Name()
	if name == "" {
		name = nameFromManifest(d.manifestURL)
		if err := f.SetName(name); err != nil {
			return err
		}
	}
	outputPath := filepath.Join(d.outputDir, f.Folder(), name)
	if _, err := os.Stat(outputPath); err == nil {
		outputPath = utils.RenewOutputPath(outputPath)
	}
	partPath := utils.PartPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(partPath), 0755); err != nil {
		return fmt.Errorf("error creating temp directory: %v", err)
	}
	if err := f.SetStatus("downloading"); err != nil {
		return err
	}

	out, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	for i, segment := range segments {
		if err := d.fetchSegment(ctx, segment, out); err != nil {
			out.Close()
			os.Remove(partPath)
			if d.meter.Aborted() {
				return plugin.ErrAborted
			}
			return fmt.Errorf("error downloading segment %d: %v", i, err)
		}
		f.Progress().SetValue((i + 1) * 100 / len(segments))
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("error closing output file: %v", err)
	}
	if err := os.Rename(partPath, outputPath); err != nil {
		return fmt.Errorf("error renaming output file: %v", err)
	}
	os.Remove(filepath.Dir(partPath))
	if info, err := os.Stat(outputPath); err == nil {
		f.SetSize(info.Size())
	}
	log.Info().Str("op", "m3u8/downloader").Int("file", f.ID()).Msgf("Merged %d segments into %s", len(segments), outputPath)
	return nil
}

func (d *Downloader) fetchSegment(ctx context.Context, segmentURL string, out io.Writer) error {
	if d.meter.Aborted() {
		return plugin.ErrAborted
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segmentURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	_, err = io.Copy(out, io.TeeReader(resp.Body, d.meter))
	return err
}
