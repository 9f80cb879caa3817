package gitclone

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/tanq16/danzod/internal/plugin"
)

const Name = "gitclone"

func Info() plugin.Info {
	return plugin.Info{
		Name:        Name,
		MaxParallel: 2,
		Patterns:    []string{`\.git/?$`, `^git@`, `^ssh://`},
		Aliases:     []string{"git"},
	}
}

// parseGitURL splits a clone URL into host, owner and repository name.
// Both https://host/owner/repo(.git) and git@host:owner/repo.git are
// accepted.
func parseGitURL(url string) (string, string, string, error) {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")
	switch {
	case strings.HasPrefix(url, "git@"):
		url = strings.Replace(strings.TrimPrefix(url, "git@"), ":", "/", 1)
	case strings.HasPrefix(url, "ssh://"):
		url = strings.TrimPrefix(url, "ssh://")
		if at := strings.Index(url, "@"); at >= 0 {
			url = url[at+1:]
		}
	default:
		url = strings.TrimPrefix(url, "https://")
		url = strings.TrimPrefix(url, "http://")
	}
	parts := strings.Split(url, "/")
	if len(parts) < 3 || parts[0] == "" || parts[len(parts)-1] == "" {
		return "", "", "", fmt.Errorf("invalid git URL format, expected host/owner/repo")
	}
	host := parts[0]
	owner := strings.Join(parts[1:len(parts)-1], "/")
	repo := parts[len(parts)-1]
	return host, owner, repo, nil
}

// Downloader clones a repository into the download directory.
type Downloader struct {
	cloneURL  string
	repo      string
	auth      transport.AuthMethod
	depth     int
	outputDir string
	meter     *plugin.Meter
}

func New(f plugin.File, env plugin.Env) (plugin.Plugin, error) {
	link := f.URL()
	if !isSSHURL(link) && !strings.HasPrefix(link, "https://") && !strings.HasPrefix(link, "http://") {
		return nil, fmt.Errorf("unsupported clone URL: %s", link)
	}
	_, _, repo, err := parseGitURL(link)
	if err != nil {
		return nil, err
	}
	auth, err := getAuthMethod(link, env.HTTP.BearerToken, env.SSHKey)
	if err != nil {
		return nil, err
	}
	return &Downloader{
		cloneURL:  link,
		repo:      repo,
		auth:      auth,
		depth:     env.GitDepth,
		outputDir: env.DownloadDir,
		meter:     plugin.NewMeter(f.Progress()),
	}, nil
}

func (d *Downloader) Transfer() plugin.Transfer {
	return d.meter
}
