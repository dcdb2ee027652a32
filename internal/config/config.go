package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrMissingStartURL is the only fatal configuration error: neither DOCS_URL
// nor BASE_URL was set, so there is nowhere to start the crawl.
var ErrMissingStartURL = errors.New("please set BASE_URL and DOCS_URL/LOGIN_URL env vars")

type Config struct {
	// BaseURL maps to BASE_URL. Relative start hrefs and the same-origin
	// check are resolved against it.
	BaseURL  string `envconfig:"BASE_URL"`
	LoginURL string `envconfig:"LOGIN_URL"`
	DocsURL  string `envconfig:"DOCS_URL"`

	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`

	// Login form selectors. An empty selector skips that step.
	UserSelector   string `envconfig:"USER_SELECTOR" default:"input[name='username']"`
	PassSelector   string `envconfig:"PASS_SELECTOR" default:"input[name='password']"`
	SubmitSelector string `envconfig:"SUBMIT_SELECTOR" default:"button[type='submit'],input[type='submit']"`

	FolderLinkSelector    string `envconfig:"FOLDER_LINK_SELECTOR" default:"a.folder, a[role='treeitem'][data-type='folder']"`
	FileLinkSelector      string `envconfig:"FILE_LINK_SELECTOR" default:"a.file, a[download], a[data-type='file']"`
	CurrentFolderSelector string `envconfig:"CURRENT_FOLDER_SELECTOR"`

	// LinkExtractor picks how anchors are found: "selector" queries the live
	// page, "html" parses the rendered DOM snapshot.
	LinkExtractor string `envconfig:"LINK_EXTRACTOR" default:"selector"`

	RestrictToDomain bool `envconfig:"RESTRICT_TO_DOMAIN" default:"true"`

	NavTimeoutMS    int `envconfig:"NAV_TIMEOUT_MS" default:"30000"`
	PostLoginWaitMS int `envconfig:"POST_LOGIN_WAIT_MS" default:"1500"`
	CrawlDelayMS    int `envconfig:"CRAWL_DELAY_MS" default:"300"`

	// MaxRequestsPerSecond caps remote operations. Zero means no cap.
	MaxRequestsPerSecond float64 `envconfig:"MAX_REQUESTS_PER_SECOND" default:"0"`
	RespectRobots        bool    `envconfig:"RESPECT_ROBOTS" default:"false"`
	UserAgent            string  `envconfig:"USER_AGENT" default:"docsync/1.0"`

	Headless bool `envconfig:"HEADLESS" default:"true"`

	DownloadRoot string `envconfig:"DOWNLOAD_ROOT" default:"/downloads"`
	StateFile    string `envconfig:"STATE_FILE" default:"/state/downloaded.json"`

	// StateDSN switches the state store to Postgres when set.
	StateDSN string `envconfig:"STATE_DSN"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the process environment.
// envFile may be empty, in which case ".env" in the working directory is tried.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	// In Docker/K8s there is usually no .env file, so a missing one is fine.
	if err := godotenv.Load(envFile); err != nil {
		if _, statErr := os.Stat(envFile); statErr == nil {
			log.Printf("Warning: %s found but could not be loaded: %v", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.LoginURL = strings.TrimSpace(c.LoginURL)
	c.DocsURL = strings.TrimSpace(c.DocsURL)
	c.LinkExtractor = strings.ToLower(strings.TrimSpace(c.LinkExtractor))
}

// Validate reports ErrMissingStartURL when no crawl root can be resolved.
func (c *Config) Validate() error {
	if c.StartURL() == "" {
		return ErrMissingStartURL
	}
	return nil
}

// StartURL is DOCS_URL, falling back to BASE_URL.
func (c *Config) StartURL() string {
	if c.DocsURL != "" {
		return c.DocsURL
	}
	return c.BaseURL
}

func (c *Config) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutMS) * time.Millisecond
}

func (c *Config) PostLoginWait() time.Duration {
	return time.Duration(c.PostLoginWaitMS) * time.Millisecond
}

func (c *Config) CrawlDelay() time.Duration {
	return time.Duration(c.CrawlDelayMS) * time.Millisecond
}
