package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/danzod/internal/captcha/trader"
	"github.com/tanq16/danzod/internal/utils"
)

type HTTPConfig struct {
	Timeout       time.Duration     `yaml:"timeout"`
	KATimeout     time.Duration     `yaml:"keep_alive_timeout"`
	ProxyURL      string            `yaml:"proxy"`
	ProxyUsername string            `yaml:"proxy_username"`
	ProxyPassword string            `yaml:"proxy_password"`
	UserAgent     string            `yaml:"user_agent"`
	Headers       map[string]string `yaml:"headers"`
	Token         string            `yaml:"oauth_token"`
}

type S3Config struct {
	Profile      string `yaml:"profile"`
	ExportBucket string `yaml:"export_bucket"`
	ExportKey    string `yaml:"export_key"`
	Region       string `yaml:"region"`
}

type GitConfig struct {
	SSHKey string `yaml:"ssh_key"`
	Depth  int    `yaml:"depth"`
}

type GDriveConfig struct {
	APIKey      string `yaml:"api_key"`
	Credentials string `yaml:"credentials"`
	TokenFile   string `yaml:"token_file"`
}

type TraderConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Username   string  `yaml:"username"`
	Passkey    string  `yaml:"passkey"`
	APIKey     string  `yaml:"api_key"`
	Force      bool    `yaml:"force"`
	SubmitURL  string  `yaml:"submit_url"`
	RespondURL string  `yaml:"respond_url"`
	CreditsURL string  `yaml:"credits_url"`
	RateLimit  float64 `yaml:"requests_per_second"`
}

type CaptchaConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Trader  TraderConfig  `yaml:"trader"`
}

type ServerConfig struct {
	Listen        string        `yaml:"listen"`
	ClientTimeout time.Duration `yaml:"client_timeout"`
}

type Config struct {
	Workers      int            `yaml:"workers"`
	DownloadDir  string         `yaml:"download_dir"`
	StorePath    string         `yaml:"store_path"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	PluginLimits map[string]int `yaml:"plugin_limits"`
	HTTP         HTTPConfig     `yaml:"http"`
	S3           S3Config       `yaml:"s3"`
	Git          GitConfig      `yaml:"git"`
	GDrive       GDriveConfig   `yaml:"gdrive"`
	Captcha      CaptchaConfig  `yaml:"captcha"`
	Server       ServerConfig   `yaml:"server"`
}

func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workers:      3,
		DownloadDir:  ".",
		StorePath:    filepath.Join(home, ".config", "danzod", "store.yaml"),
		PollInterval: time.Second,
		PluginLimits: map[string]int{},
		HTTP: HTTPConfig{
			Timeout:   3 * time.Minute,
			KATimeout: 90 * time.Second,
			UserAgent: utils.ToolUserAgent,
			Headers:   map[string]string{},
		},
		S3:     S3Config{Profile: "default", ExportKey: "danzod/store.yaml"},
		GDrive: GDriveConfig{TokenFile: filepath.Join(home, ".config", "danzod", "gdrive-token.json")},
		Captcha: CaptchaConfig{
			Timeout: time.Minute,
			Trader: TraderConfig{
				SubmitURL:  trader.DefaultSubmitURL,
				RespondURL: trader.DefaultRespondURL,
				CreditsURL: trader.DefaultCreditsURL,
				RateLimit:  2,
			},
		},
		Server: ServerConfig{Listen: "127.0.0.1:8080", ClientTimeout: 30 * time.Second},
	}
}

func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "danzod.yaml"
	}
	return filepath.Join(home, ".config", "danzod", "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("op", "config/load").Msgf("no config at %s, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config: %v", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	for name, limit := range c.PluginLimits {
		if limit < 0 {
			return fmt.Errorf("plugin limit for %s must not be negative", name)
		}
	}
	if c.HTTP.ProxyURL != "" {
		if _, err := url.Parse(c.HTTP.ProxyURL); err != nil {
			return fmt.Errorf("invalid proxy URL: %v", err)
		}
	}
	if c.GDrive.APIKey != "" && c.GDrive.Credentials != "" {
		return fmt.Errorf("gdrive takes either api_key or credentials, not both")
	}
	if c.Captcha.Trader.Enabled && (c.Captcha.Trader.Username == "" || c.Captcha.Trader.Passkey == "") {
		return fmt.Errorf("captcha trader requires username and passkey")
	}
	return nil
}

// HTTPClientConfig resolves proxy credentials embedded in the proxy URL and
// the randomize user agent keyword.
func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	proxyURL := c.HTTP.ProxyURL
	proxyUsername := c.HTTP.ProxyUsername
	proxyPassword := c.HTTP.ProxyPassword
	parsedProxy, err := url.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	userAgent := c.HTTP.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	headers := make(map[string]string, len(c.HTTP.Headers))
	for k, v := range c.HTTP.Headers {
		headers[k] = v
	}
	return utils.HTTPClientConfig{
		Timeout:       c.HTTP.Timeout,
		KATimeout:     c.HTTP.KATimeout,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		UserAgent:     userAgent,
		Headers:       headers,
		BearerToken:   c.HTTP.Token,
		// tuned socket buffers once many transfers share the host
		HighThreadMode: c.Workers > 5,
	}
}

func (c *Config) TraderConfig() trader.Config {
	t := c.Captcha.Trader
	return trader.Config{
		Username:          t.Username,
		Passkey:           t.Passkey,
		APIKey:            t.APIKey,
		SubmitURL:         t.SubmitURL,
		RespondURL:        t.RespondURL,
		CreditsURL:        t.CreditsURL,
		RequestsPerSecond: t.RateLimit,
	}
}
