package danzohttp

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tanq16/danzod/internal/plugin"
	"github.com/tanq16/danzod/internal/utils"
)

var (
	errRangeRequestsNotSupported = errors.New("range requests are not supported")
	filenameRegex                = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)
)

const defaultRetryWait = 60 * time.Second

type fileInfo struct {
	size     int64
	filename string
}

func getFileInfo(ctx context.Context, link string, client *utils.DanzoHTTPClient) (fileInfo, error) {
	var info fileInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return info, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if retry := retryFromResponse(resp); retry != nil {
		return info, retry
	}
	if resp.StatusCode == http.StatusNotFound {
		return info, errors.New("URL not found (404)")
	}
	if resp.StatusCode >= 400 {
		return info, errors.New("server returned error: " + resp.Status)
	}
	if contentDisposition := resp.Header.Get("Content-Disposition"); contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if fn, ok := params["filename"]; ok && fn != "" {
				info.filename = filenameRegex.ReplaceAllString(fn, "_")
			} else if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
				unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
				info.filename = filenameRegex.ReplaceAllString(unescaped, "_")
			}
		}
	}
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil && size > 0 {
			info.size = size
		}
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return info, errRangeRequestsNotSupported
	}
	return info, nil
}

// retryFromResponse turns throttling responses into a retry request.
func retryFromResponse(resp *http.Response) *plugin.RetryError {
	if resp.StatusCode != http.StatusServiceUnavailable && resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	wait := defaultRetryWait
	if after := resp.Header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	return &plugin.RetryError{Wait: wait, Reason: "server returned " + resp.Status}
}

func nameFromURL(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return "download"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return filenameRegex.ReplaceAllString(name, "_")
}
