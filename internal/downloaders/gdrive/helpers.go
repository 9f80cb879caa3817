package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tanq16/danzod/internal/utils"
)

var (
	driveFileRegex      = regexp.MustCompile(`https://drive\.google\.com/file/d/([^/?#]+)`)
	driveShortLinkRegex = regexp.MustCompile(`https://drive\.google\.com/open\?id=([^&\s]+)`)
	driveFolderRegex    = regexp.MustCompile(`https://drive\.google\.com/drive/(?:u/\d+/)?folders/([^/?#]+)`)
)

const (
	driveAPIURL    = "https://www.googleapis.com/drive/v3"
	folderMimeType = "application/vnd.google-apps.folder"
	appsMimePrefix = "application/vnd.google-apps."
)

type driveItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     string `json:"size"`
	MimeType string `json:"mimeType"`
}

func (i driveItem) size() int64 {
	n, _ := strconv.ParseInt(i.Size, 10, 64)
	return n
}

func (i driveItem) isFolder() bool {
	return i.MimeType == folderMimeType
}

// exportOnly reports native Docs/Sheets items that have no binary content.
func (i driveItem) exportOnly() bool {
	return strings.HasPrefix(i.MimeType, appsMimePrefix) && !i.isFolder()
}

type folderPage struct {
	Files         []driveItem `json:"files"`
	NextPageToken string      `json:"nextPageToken"`
}

func extractFileID(rawURL string) (string, error) {
	for _, re := range []*regexp.Regexp{driveFileRegex, driveShortLinkRegex, driveFolderRegex} {
		if matches := re.FindStringSubmatch(rawURL); len(matches) > 1 {
			return matches[1], nil
		}
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if id := parsedURL.Query().Get("id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("unable to extract file ID from URL: %s", rawURL)
}

// api builds Drive API requests authenticated by an API key, or by the bearer
// token the client carries when the key is empty.
type api struct {
	base   string
	apiKey string
	client *utils.DanzoHTTPClient
}

func (a api) url(path string, query url.Values) string {
	if a.apiKey != "" {
		query.Set("key", a.apiKey)
	}
	return a.base + path + "?" + query.Encode()
}

func (a api) mediaURL(id string) string {
	return a.url("/files/"+url.PathEscape(id), url.Values{"alt": {"media"}})
}

func (a api) getJSON(ctx context.Context, apiURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("error calling drive API: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("drive API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("error parsing drive API response: %v", err)
	}
	return nil
}

func (a api) metadata(ctx context.Context, id string) (driveItem, error) {
	var item driveItem
	err := a.getJSON(ctx, a.url("/files/"+url.PathEscape(id), url.Values{"fields": {"id,name,size,mimeType"}}), &item)
	if err != nil {
		return driveItem{}, fmt.Errorf("error getting metadata: %v", err)
	}
	return item, nil
}

func (a api) listFolder(ctx context.Context, folderID string) ([]driveItem, error) {
	var items []driveItem
	pageToken := ""
	for {
		query := url.Values{
			"q":        {fmt.Sprintf("'%s' in parents and trashed = false", folderID)},
			"fields":   {"nextPageToken,files(id,name,size,mimeType)"},
			"pageSize": {"1000"},
		}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var page folderPage
		if err := a.getJSON(ctx, a.url("/files", query), &page); err != nil {
			return nil, fmt.Errorf("error listing folder contents: %v", err)
		}
		items = append(items, page.Files...)
		if page.NextPageToken == "" {
			return items, nil
		}
		pageToken = page.NextPageToken
	}
}
