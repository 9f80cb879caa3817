package gitclone

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/progress"
	"github.com/tanq16/danzod/internal/utils"
)

var phaseRegex = regexp.MustCompile(`(Counting|Compressing|Receiving|Resolving) (?:objects|deltas):\s+(\d+)%`)

// gitCloneProgress turns the sideband progress stream into file progress.
// Receiving objects covers 0-90, resolving deltas the rest.
type gitCloneProgress struct {
	tracker *progress.Tracker
}

func (p *gitCloneProgress) Write(data []byte) (int, error) {
	for _, line := range strings.FieldsFunc(string(data), func(r rune) bool { return r == '\r' || r == '\n' }) {
		message := strings.TrimSpace(line)
		if message == "" {
			continue
		}
		log.Debug().Str("op", "gitclone/progress").Msg(message)
		match := phaseRegex.FindStringSubmatch(message)
		if match == nil || p.tracker == nil {
			continue
		}
		pct, _ := strconv.Atoi(match[2])
		switch match[1] {
		case "Receiving":
			p.tracker.SetValue(pct * 9 / 10)
		case "Resolving":
			p.tracker.SetValue(90 + pct/10)
		}
	}
	return len(data), nil
}

func (d *Downloader) Process(ctx context.Context, f plugin.File) error {
	name := f.Name()
	if name == "" {
		name = d.repo
		if err := f.SetName(name); err != nil {
			return err
		}
	}
	outputPath := filepath.Join(d.outputDir, f.Folder(), name)
	if info, err := os.Stat(outputPath); err == nil && info.IsDir() {
		outputPath = utils.RenewOutputPath(outputPath)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %v", err)
	}
	if err := f.SetStatus("downloading"); err != nil {
		return err
	}

	cloneCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.watchAbort(cloneCtx, cancel, f)

	cloneOptions := &git.CloneOptions{
		URL:      d.cloneURL,
		Auth:     d.auth,
		Progress: &gitCloneProgress{tracker: f.Progress()},
	}
	if d.depth > 0 {
		cloneOptions.Depth = d.depth
	}
	log.Info().Str("op", "gitclone/download").Msgf("Cloning %s into %s", d.cloneURL, outputPath)
	_, err := git.PlainCloneContext(cloneCtx, outputPath, false, cloneOptions)
	if err != nil {
		os.RemoveAll(outputPath)
		if d.meter.Aborted() || f.AbortRequested() {
			return plugin.ErrAborted
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("git clone failed: %v", err)
	}

	size, err := getDirSize(outputPath)
	if err != nil {
		log.Warn().Str("op", "gitclone/download").Msgf("error measuring clone: %v", err)
		return nil
	}
	f.SetSize(size)
	d.meter.SetTotal(size)
	d.meter.SetDone(size)
	log.Info().Str("op", "gitclone/download").Msgf("Clone complete - Total size: %d bytes", size)
	return nil
}

// watchAbort cancels the clone once an abort is requested.
func (d *Downloader) watchAbort(ctx context.Context, cancel context.CancelFunc, f plugin.File) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.meter.Aborted() || f.AbortRequested() {
				cancel()
				return
			}
		}
	}
}

func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}
