package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/utils"
)

const Name = "s3"

func Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		MaxParallel: 4,
		Patterns:    []string{`^s3://`},
	}
}

// Downloader fetches an object, or every object below a prefix, from S3.
type Downloader struct {
	client    objectAPI
	profile   string
	bucket    string
	key       string
	outputDir string
	meter     *plugin.Meter
}

func New(f plugin.File, env plugin.Env) (plugin.Plugin, error) {
	bucket, key, err := parseS3URL(f.URL())
	if err != nil {
		return nil, err
	}
	profile := env.S3Profile
	if profile == "" {
		profile = "default"
	}
	return &Downloader{
		profile:   profile,
		bucket:    bucket,
		key:       key,
		outputDir: env.DownloadDir,
		meter:     plugin.NewMeter(f.Progress()),
	}, nil
}

func (d *Downloader) Transfer() plugin.Transfer {
	return d.meter
}

func (d *Downloader) Process(ctx context.Context, f plugin.File) error {
	if d.client == nil {
		client, err := getS3Client(ctx, d.profile)
		if err != nil {
			return fmt.Errorf("error creating S3 client: %v", err)
		}
		d.client = client
	}
	fileType, size, err := getS3ObjectInfo(ctx, d.bucket, d.key, d.client)
	if err != nil {
		return err
	}
	name := f.Name()
	if name == "" {
		name = path.Base(strings.TrimSuffix(d.key, "/"))
		if err := f.SetName(name); err != nil {
			return err
		}
	}
	outputPath := filepath.Join(d.outputDir, f.Folder(), name)
	if err := f.SetStatus("downloading"); err != nil {
		return err
	}
	if fileType == "folder" {
		log.Info().Str("op", "s3/download").Msgf("Starting folder download for s3://%s/%s", d.bucket, d.key)
		return d.downloadFolder(ctx, f, outputPath)
	}
	log.Info().Str("op", "s3/download").Msgf("Starting file download for s3://%s/%s", d.bucket, d.key)
	f.SetSize(size)
	d.meter.SetTotal(size)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("error creating directory: %v", err)
	}
	return d.performS3Download(ctx, f, d.key, outputPath)
}

func (d *Downloader) downloadFolder(ctx context.Context, f plugin.File, outputDir string) error {
	objects, err := listS3Objects(ctx, d.bucket, d.key, d.client)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return fmt.Errorf("no objects found in s3://%s/%s", d.bucket, d.key)
	}
	var totalSize int64
	for _, obj := range objects {
		totalSize += obj.Size
	}
	f.SetSize(totalSize)
	d.meter.SetTotal(totalSize)
	log.Debug().Str("op", "s3/download").Msgf("Found %d objects to download in folder", len(objects))
	for _, obj := range objects {
		relPath := strings.TrimPrefix(strings.TrimPrefix(obj.Key, d.key), "/")
		outputPath := filepath.Join(outputDir, relPath)
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return fmt.Errorf("error creating directory: %v", err)
		}
		if err := d.performS3Download(ctx, f, obj.Key, outputPath); err != nil {
			return fmt.Errorf("error downloading %s: %w", obj.Key, err)
		}
	}
	return nil
}

// progressWriter counts bytes written by the ranged downloader and stops it
// once the transfer or the file is aborted.
type progressWriter struct {
	w     io.WriterAt
	meter *plugin.Meter
	file  plugin.File
}

func (p *progressWriter) WriteAt(b []byte, off int64) (int, error) {
	if p.meter.Aborted() || p.file.AbortRequested() {
		return 0, plugin.ErrAborted
	}
	n, err := p.w.WriteAt(b, off)
	if n > 0 {
		p.meter.Add(int64(n))
	}
	return n, err
}

func (d *Downloader) performS3Download(ctx context.Context, f plugin.File, key, outputPath string) error {
	tempPath := utils.PartPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(tempPath), 0755); err != nil {
		return fmt.Errorf("error creating temp directory: %v", err)
	}
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("error creating file: %v", err)
	}
	downloader := s3manager.NewDownloader(d.client, func(dl *s3manager.Downloader) {
		dl.PartSize = 2 * utils.DefaultBufferSize
		dl.Concurrency = 4
		dl.BufferProvider = s3manager.NewPooledBufferedWriterReadFromProvider(utils.DefaultBufferSize)
	})
	_, err = downloader.Download(ctx, &progressWriter{w: file, meter: d.meter, file: f}, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	closeErr := file.Close()
	if d.meter.Aborted() || f.AbortRequested() {
		os.Remove(tempPath)
		return plugin.ErrAborted
	}
	if err != nil {
		return fmt.Errorf("error downloading S3 object: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("error writing file: %v", closeErr)
	}
	if err := os.Rename(tempPath, outputPath); err != nil {
		return fmt.Errorf("error finalizing file: %v", err)
	}
	os.Remove(filepath.Dir(tempPath))
	return nil
}
