package ghrelease

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/utils"
)

var assetSelectMap = map[string][]string{
	"linuxamd64":   {"linux-amd64", "linux_amd64", "linux-x86_64", "linux-x86-64", "linux_x86_64", "linux_x86-64", "amd64-linux", "x86_64-linux", "x86-64-linux", "amd64_linux", "x86_64_linux", "x86-64_linux"},
	"linuxarm64":   {"linux-arm64", "linux_arm64", "linux-aarch64", "linux_aarch64", "arm64-linux", "aarch64-linux", "arm64_linux", "aarch64_linux"},
	"windowsamd64": {"windows-amd64", "windows_amd64", "windows-x86_64", "windows-x86-64", "windows_x86_64", "windows_x86-64", "amd64-windows", "x86_64-windows", "x86-64-windows", "amd64_windows", "x86_64_windows", "x86-64_windows"},
	"windowsarm64": {"windows-arm64", "windows_arm64", "windows-aarch64", "windows_aarch64", "arm64-windows", "aarch64-windows", "arm64_windows", "aarch64_windows"},
	"darwinamd64":  {"darwin-amd64", "darwin_amd64", "darwin-x86_64", "darwin-x86-64", "darwin_x86_64", "darwin_x86-64", "amd64-darwin", "x86_64-darwin", "x86-64-darwin", "amd64_darwin", "x86_64_darwin", "x86-64_darwin"},
	"darwinarm64":  {"darwin-arm64", "darwin_arm64", "darwin-aarch64", "darwin_aarch64", "arm64-darwin", "aarch64-darwin", "arm64_darwin", "aarch64_darwin"},
}

var releaseURLRegex = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/releases(?:/(?:latest|tag/([^/]+)))?/?$`)

var ignoredAssets = []string{
	"license", "readme", "changelog", "checksums", "sha256checksum", ".sha256",
}

type release struct {
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"browser_download_url"`
}

// parseReleaseURL returns owner, repo and tag; an empty tag means latest.
func parseReleaseURL(url string) (string, string, string, error) {
	matches := releaseURLRegex.FindStringSubmatch(strings.TrimSpace(url))
	if matches == nil {
		return "", "", "", fmt.Errorf("invalid GitHub release URL: %s", url)
	}
	return matches[1], matches[2], matches[3], nil
}

func getRelease(ctx context.Context, apiBase, owner, repo, tag string, client *utils.DanzoHTTPClient) (release, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", apiBase, owner, repo)
	if tag != "" {
		apiURL = fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", apiBase, owner, repo, tag)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return release{}, fmt.Errorf("error creating API request: %v", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return release{}, fmt.Errorf("error making API request: %v", err)
	}
	defer resp.Body.Close()
	if retry := rateLimited(resp); retry != nil {
		return release{}, retry
	}
	if resp.StatusCode != http.StatusOK {
		return release{}, fmt.Errorf("API request failed with status code: %d", resp.StatusCode)
	}
	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return release{}, fmt.Errorf("error decoding API response: %v", err)
	}
	if len(rel.Assets) == 0 {
		return release{}, fmt.Errorf("no assets found in the release")
	}
	return rel, nil
}

// rateLimited parks the file until the API quota resets.
func rateLimited(resp *http.Response) *plugin.RetryError {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return nil
	}
	wait := time.Minute
	if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		if until := time.Until(time.Unix(reset, 0)); until > 0 {
			wait = until
		}
	}
	return &plugin.RetryError{Wait: wait, Reason: "GitHub API rate limit exceeded"}
}

// selectAsset prefers an exact name, then the first asset built for the
// platform.
func selectAsset(assets []asset, name, platform string) (asset, bool) {
	if name != "" {
		for _, a := range assets {
			if a.Name == name {
				return a, true
			}
		}
	}
	for _, a := range assets {
		assetNameLower := strings.ToLower(a.Name)
		isIgnored := false
		for _, ignored := range ignoredAssets {
			if strings.Contains(assetNameLower, ignored) {
				isIgnored = true
				break
			}
		}
		if isIgnored {
			continue
		}
		for _, key := range assetSelectMap[platform] {
			if strings.Contains(assetNameLower, key) {
				return a, true
			}
		}
	}
	return asset{}, false
}
