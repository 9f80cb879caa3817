package danzohttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/utils"
)

func (d *Downloader) performSimpleDownload(ctx context.Context, f plugin.File, outputPath string) error {
	tempOutputPath := utils.PartPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(tempOutputPath), 0755); err != nil {
		return fmt.Errorf("error creating temp directory: %v", err)
	}
	var lastErr error
	for retry := range d.maxRetries {
		if retry > 0 {
			log.Warn().Str("op", "http/simple-downloader").Msgf("Retrying download for %s (attempt %d/%d)", outputPath, retry+1, d.maxRetries)
			select {
			case <-time.After(time.Duration(retry+1) * d.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := d.downloadAttempt(ctx, f, tempOutputPath)
		var retryErr *plugin.RetryError
		switch {
		case err == nil:
			if err := os.Rename(tempOutputPath, outputPath); err != nil {
				return fmt.Errorf("error renaming (finalizing) output file: %v", err)
			}
			os.Remove(filepath.Dir(tempOutputPath))
			log.Info().Str("op", "http/simple-downloader").Msgf("Simple download successful for %s", outputPath)
			return nil
		case errors.Is(err, plugin.ErrAborted), errors.As(err, &retryErr), ctx.Err() != nil:
			return err
		}
		lastErr = err
		log.Error().Str("op", "http/simple-downloader").Err(err).Msgf("Download attempt %d failed", retry+1)
	}
	return fmt.Errorf("download failed after %d retries: %w", d.maxRetries, lastErr)
}

func (d *Downloader) downloadAttempt(ctx context.Context, f plugin.File, tempOutputPath string) error {
	var resumeOffset int64
	fileMode := os.O_CREATE | os.O_WRONLY
	if fileInfo, err := os.Stat(tempOutputPath); err == nil {
		resumeOffset = fileInfo.Size()
		fileMode |= os.O_APPEND
	} else {
		fileMode |= os.O_TRUNC
	}
	outFile, err := os.OpenFile(tempOutputPath, fileMode, 0644)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	defer outFile.Close()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.watchAbort(reqCtx, cancel, f)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.link, nil)
	if err != nil {
		return fmt.Errorf("error creating GET request: %v", err)
	}
	if resumeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
		log.Debug().Str("op", "http/simple-downloader").Msgf("Resuming download from offset %d", resumeOffset)
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := d.client.DoStream(req)
	if err != nil {
		if d.abortRequested(f) {
			return plugin.ErrAborted
		}
		return fmt.Errorf("error executing GET request: %v", err)
	}
	defer resp.Body.Close()
	if retry := retryFromResponse(resp); retry != nil {
		return retry
	}

	if resumeOffset > 0 && resp.StatusCode != http.StatusPartialContent {
		log.Warn().Str("op", "http/simple-downloader").Msgf("Server does not support resume (status %d). Restarting download.", resp.StatusCode)
		outFile.Close()
		outFile, err = os.OpenFile(tempOutputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("error creating output file: %v", err)
		}
		defer outFile.Close()
		resumeOffset = 0
	}
	if resumeOffset == 0 && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if d.meter.Size() == 0 && resp.ContentLength > 0 {
		total := resumeOffset + resp.ContentLength
		f.SetSize(total)
		d.meter.SetTotal(total)
	}
	d.meter.SetDone(resumeOffset)

	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		if d.abortRequested(f) {
			cancel()
			return plugin.ErrAborted
		}
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return fmt.Errorf("error writing to output file: %v", writeErr)
			}
			d.meter.Add(int64(bytesRead))
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if d.abortRequested(f) {
				return plugin.ErrAborted
			}
			return fmt.Errorf("error reading response body: %v", readErr)
		}
	}
	return outFile.Sync()
}

func (d *Downloader) abortRequested(f plugin.File) bool {
	return d.meter.Aborted() || f.AbortRequested()
}

// watchAbort cancels the request once an abort is requested, so a body read
// stalled on a silent server returns.
func (d *Downloader) watchAbort(ctx context.Context, cancel context.CancelFunc, f plugin.File) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.abortRequested(f) {
				cancel()
				return
			}
		}
	}
}
