package ghrelease

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"

	danzohttp "github.com/tanq16/danzod/internal/downloaders/http"
	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/utils"
)

const Name = "ghrelease"

func Info() plugin.Info {
	return plugin.Info{
		Name:     Name,
		Patterns: []string{releaseURLRegex.String()},
		Aliases:  []string{"github-release", "ghr"},
	}
}

// Downloader resolves a release asset through the GitHub API and hands the
// transfer to the http plugin.
type Downloader struct {
	owner    string
	repo     string
	tag      string
	apiBase  string
	platform string
	env      plugin.Env
	client   *utils.DanzoHTTPClient
	meter    *plugin.Meter
}

func New(f plugin.File, env plugin.Env) (plugin.Plugin, error) {
	owner, repo, tag, err := parseReleaseURL(f.URL())
	if err != nil {
		return nil, err
	}
	return &Downloader{
		owner:    owner,
		repo:     repo,
		tag:      tag,
		apiBase:  "https://api.github.com",
		platform: runtime.GOOS + runtime.GOARCH,
		env:      env,
		client:   utils.NewDanzoHTTPClient(env.HTTP),
		meter:    plugin.NewMeter(f.Progress()),
	}, nil
}

func (d *Downloader) Transfer() plugin.Transfer {
	return d.meter
}

func (d *Downloader) Process(ctx context.Context, f plugin.File) error {
	rel, err := getRelease(ctx, d.apiBase, d.owner, d.repo, d.tag, d.client)
	if err != nil {
		return err
	}
	selected, ok := selectAsset(rel.Assets, f.Name(), d.platform)
	if !ok {
		return fmt.Errorf("could not select an asset of %s for platform %s", rel.TagName, d.platform)
	}
	log.Info().Str("op", "ghrelease/downloader").Int("file", f.ID()).Msgf("Selected %s from %s/%s %s", selected.Name, d.owner, d.repo, rel.TagName)
	if f.Name() == "" {
		if err := f.SetName(selected.Name); err != nil {
			return err
		}
	}
	if selected.Size > 0 {
		f.SetSize(selected.Size)
		d.meter.SetTotal(selected.Size)
	}
	inner, err := danzohttp.NewLink(selected.DownloadURL, d.meter, d.env)
	if err != nil {
		return err
	}
	return inner.Process(ctx, f)
}
