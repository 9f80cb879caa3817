package m3u8

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tanq16/danzod/internal/utils"
)

const maxPlaylistDepth = 3

// parseM3U8URL strips the optional m3u8:// prefix used to force the plugin.
func parseM3U8URL(rawURL string) (string, error) {
	actualURL := strings.TrimPrefix(strings.TrimSpace(rawURL), "m3u8://")
	parsed, err := url.Parse(actualURL)
	if err != nil {
		return "", fmt.Errorf("invalid manifest URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported manifest scheme: %q", parsed.Scheme)
	}
	return actualURL, nil
}

func getM3U8Contents(ctx context.Context, manifestURL string, client *utils.DanzoHTTPClient) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching m3u8 manifest: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading manifest content: %v", err)
	}
	return string(content), nil
}

// segmentURLs resolves the media segments of a playlist. A master playlist
// is followed through its first variant.
func segmentURLs(ctx context.Context, content, manifestURL string, client *utils.DanzoHTTPClient, depth int) ([]string, error) {
	baseURL, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing manifest URL: %v", err)
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	var segments, variants []string
	isMaster := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
				isMaster = true
			}
			continue
		}
		ref, err := url.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("error resolving URL: %v", err)
		}
		abs := baseURL.ResolveReference(ref).String()
		if isMaster {
			variants = append(variants, abs)
		} else {
			segments = append(segments, abs)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning m3u8 content: %v", err)
	}
	if isMaster {
		if len(variants) == 0 {
			return nil, fmt.Errorf("master playlist lists no variants")
		}
		if depth >= maxPlaylistDepth {
			return nil, fmt.Errorf("playlist nesting deeper than %d", maxPlaylistDepth)
		}
		sub, err := getM3U8Contents(ctx, variants[0], client)
		if err != nil {
			return nil, fmt.Errorf("error fetching sub-playlist: %v", err)
		}
		return segmentURLs(ctx, sub, variants[0], client, depth+1)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("playlist contains no segments")
	}
	return segments, nil
}

// nameFromManifest turns .../index.m3u8 into index.ts.
func nameFromManifest(manifestURL string) string {
	name := "stream"
	if parsed, err := url.Parse(manifestURL); err == nil {
		if base := strings.TrimSuffix(parsed.Path[strings.LastIndex(parsed.Path, "/")+1:], ".m3u8"); base != "" {
			name = base
		}
	}
	return name + ".ts"
}
