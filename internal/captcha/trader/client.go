package trader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tanq16/danzod/internal/utils"
)

const (
	DefaultSubmitURL  = "http://captchatrader.com/api/submit"
	DefaultRespondURL = "http://captchatrader.com/api/respond"
	DefaultCreditsURL = "http://captchatrader.com/api/get_credits/username:%s/password:%s/"
)

var Formats = []string{"file", "url-jpg", "url-jpeg", "url-png", "url-bmp"}

// Error is a negative response from the backend; Code carries the message
// the backend sent with it.
type Error struct {
	Code string
}

func (e *Error) Error() string {
	return fmt.Sprintf("captcha backend error: %s", e.Code)
}

type Config struct {
	Username   string
	Passkey    string
	APIKey     string
	SubmitURL  string
	RespondURL string
	CreditsURL string
	// RequestsPerSecond bounds outbound calls; zero means 2/s.
	RequestsPerSecond float64
}

type Client struct {
	cfg     Config
	http    *utils.DanzoHTTPClient
	limiter *rate.Limiter
}

func NewClient(cfg Config, httpCfg utils.HTTPClientConfig) *Client {
	if cfg.SubmitURL == "" {
		cfg.SubmitURL = DefaultSubmitURL
	}
	if cfg.RespondURL == "" {
		cfg.RespondURL = DefaultRespondURL
	}
	if cfg.CreditsURL == "" {
		cfg.CreditsURL = DefaultCreditsURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if httpCfg.Timeout == 0 {
		httpCfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    utils.NewDanzoHTTPClient(httpCfg),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

func (c *Client) HasCredentials() bool {
	return c.cfg.Username != "" && c.cfg.Passkey != ""
}

// Credits returns the remaining account credits.
func (c *Client) Credits(ctx context.Context) (int, error) {
	endpoint := fmt.Sprintf(c.cfg.CreditsURL, url.PathEscape(c.cfg.Username), url.PathEscape(c.cfg.Passkey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	code, value, err := c.call(req)
	if err != nil {
		return 0, err
	}
	var credits int
	if _, err := fmt.Sscan(value, &credits); err != nil {
		return 0, fmt.Errorf("unexpected credits value %q (code %d)", value, code)
	}
	log.Debug().Str("op", "trader/client").Msgf("%d credits left", credits)
	return credits, nil
}

// Submit uploads the artifact and returns the ticket and the solved text.
func (c *Client) Submit(ctx context.Context, artifact []byte, format string) (string, string, error) {
	if c.cfg.APIKey == "" {
		return "", "", &Error{Code: "No API Key Specified!"}
	}
	if !slices.Contains(Formats, format) {
		return "", "", fmt.Errorf("unsupported captcha format %q", format)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"api_key":  c.cfg.APIKey,
		"username": c.cfg.Username,
		"password": c.cfg.Passkey,
		"type":     format,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", "", err
		}
	}
	part, err := mw.CreateFormFile("value", "captcha")
	if err != nil {
		return "", "", err
	}
	if _, err := part.Write(artifact); err != nil {
		return "", "", err
	}
	if err := mw.Close(); err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SubmitURL, &body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, value, err := c.call(req)
	if err != nil {
		return "", "", err
	}
	ticket := fmt.Sprint(code)
	log.Debug().Str("op", "trader/client").Msgf("Result for ticket %s: %s", ticket, value)
	return ticket, value, nil
}

// Respond reports whether the answer for ticket was accepted.
func (c *Client) Respond(ctx context.Context, ticket string, success bool) error {
	form := url.Values{}
	form.Set("is_correct", "0")
	if success {
		form.Set("is_correct", "1")
	}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Passkey)
	form.Set("ticket", ticket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RespondURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, _, err = c.call(req)
	return err
}

// call performs the request and decodes the [code, value] response pair.
func (c *Client) call(req *http.Request) (int64, string, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return 0, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("error contacting captcha backend: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("error reading captcha backend response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("captcha backend returned status %d", resp.StatusCode)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var pair []any
	if err := dec.Decode(&pair); err != nil || len(pair) < 2 {
		return 0, "", fmt.Errorf("malformed captcha backend response: %s", strings.TrimSpace(string(data)))
	}
	num, ok := pair[0].(json.Number)
	if !ok {
		return 0, "", fmt.Errorf("malformed captcha backend code: %v", pair[0])
	}
	code, err := num.Int64()
	if err != nil {
		return 0, "", fmt.Errorf("malformed captcha backend code: %v", num)
	}
	value := fmt.Sprint(pair[1])
	if code < 0 {
		return code, value, &Error{Code: value}
	}
	return code, value, nil
}
