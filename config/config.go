// Package config provides configuration loading for pagenav using TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"pagenav/fetcher"
	"pagenav/progress"
)

// Navigation settings
type Navigation struct {
	DefaultPage     string `toml:"defaultPage"`     // page type used when the model names none
	NavMinTimeMs    int    `toml:"navMinTimeMs"`    // minimum duration of a navigation request
	SubmitMinTimeMs int    `toml:"submitMinTimeMs"` // minimum duration of a form submission
}

// Progress indicator timings
type Progress struct {
	ShowDelayMs      int `toml:"showDelayMs"`
	SlowDelayMs      int `toml:"slowDelayMs"`
	MinVisibleMs     int `toml:"minVisibleMs"`
	FinishDurationMs int `toml:"finishDurationMs"`
	PartialWidth     int `toml:"partialWidth"`
}

// Protocol names shared with the server
type Protocol struct {
	ReloadHeader   string `toml:"reloadHeader"`
	ActionHeader   string `toml:"actionHeader"`
	LocationHeader string `toml:"locationHeader"`
	ReplaceHeader  string `toml:"replaceHeader"`
	StateHeader    string `toml:"stateHeader"`
	SubmitHeader   string `toml:"submitHeader"`
	NavDataID      string `toml:"navDataId"`     // inline navigation model script
	ContentID      string `toml:"contentId"`     // content root element
	CacheBustParam string `toml:"cacheBustParam"`
}

// Antiforgery settings
type Antiforgery struct {
	HeaderName    string `toml:"headerName"`
	FormFieldName string `toml:"formFieldName"`
}

// HTTP fetching settings
type Fetcher struct {
	UserAgent      string `toml:"userAgent"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	ChromePath     string `toml:"chromePath"`
}

// Session settings
type Session struct {
	RestoreSession bool   `toml:"restoreSession"`
	Path           string `toml:"path"` // journal database (empty = default location)
}

// Config is the main configuration struct
type Config struct {
	Navigation  Navigation  `toml:"navigation"`
	Progress    Progress    `toml:"progress"`
	Protocol    Protocol    `toml:"protocol"`
	Antiforgery Antiforgery `toml:"antiforgery"`
	Fetcher     Fetcher     `toml:"fetcher"`
	Session     Session     `toml:"session"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Navigation: Navigation{
			NavMinTimeMs:    200,
			SubmitMinTimeMs: 400,
		},
		Progress: Progress{
			ShowDelayMs:      10,
			SlowDelayMs:      1700,
			MinVisibleMs:     500,
			FinishDurationMs: 180,
			PartialWidth:     70,
		},
		Protocol: Protocol{
			ReloadHeader:   "page-reload",
			ActionHeader:   "page-action",
			LocationHeader: "page-location",
			ReplaceHeader:  "page-replace",
			StateHeader:    "page-nav",
			SubmitHeader:   "page-submit",
			NavDataID:      "nav-data",
			ContentID:      "page-content",
			CacheBustParam: "_",
		},
		Antiforgery: Antiforgery{
			HeaderName:    "RequestVerificationToken",
			FormFieldName: "__RequestVerificationToken",
		},
		Fetcher: Fetcher{
			UserAgent:      "pagenav/1.0",
			TimeoutSeconds: 30,
		},
		Session: Session{
			RestoreSession: true,
		},
	}
}

// NavMinTime returns the navigation minimum duration.
func (c *Config) NavMinTime() time.Duration {
	return time.Duration(c.Navigation.NavMinTimeMs) * time.Millisecond
}

// SubmitMinTime returns the submission minimum duration.
func (c *Config) SubmitMinTime() time.Duration {
	return time.Duration(c.Navigation.SubmitMinTimeMs) * time.Millisecond
}

// ProgressOptions converts the progress section.
func (c *Config) ProgressOptions() progress.Options {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return progress.Options{
		ShowDelay:      ms(c.Progress.ShowDelayMs),
		SlowDelay:      ms(c.Progress.SlowDelayMs),
		MinVisible:     ms(c.Progress.MinVisibleMs),
		FinishDuration: ms(c.Progress.FinishDurationMs),
		PartialWidth:   c.Progress.PartialWidth,
	}
}

// FetcherOptions converts the fetcher section.
func (c *Config) FetcherOptions() fetcher.Options {
	return fetcher.Options{
		UserAgent: c.Fetcher.UserAgent,
		Timeout:   time.Duration(c.Fetcher.TimeoutSeconds) * time.Second,
	}
}

// configDir returns the configuration directory path.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pagenav"), nil
}

// ConfigPath returns the path to the user's config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// SessionPath returns the journal path, defaulting next to the config file.
func (c *Config) SessionPath() (string, error) {
	if c.Session.Path != "" {
		return c.Session.Path, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.db"), nil
}

// Load loads configuration, layering user config on top of defaults.
// Returns the default config if no user config exists.
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return Default(), nil // Return defaults if we can't determine path
	}
	return LoadFile(configPath)
}

// LoadFile layers the TOML file at path over the defaults. A missing file
// yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	userCfg, meta, err := loadFromTOML(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	return merge(cfg, userCfg, meta), nil
}

// loadFromTOML loads a TOML config file and returns the config.
func loadFromTOML(path string) (*Config, toml.MetaData, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, meta, fmt.Errorf("parsing config TOML: %w", err)
	}
	return &cfg, meta, nil
}

// merge layers user config on top of defaults.
// Only non-zero values from user config override defaults; booleans
// override when the key is present in the file.
func merge(defaults, user *Config, meta toml.MetaData) *Config {
	result := *defaults

	// Navigation
	mergeString(&result.Navigation.DefaultPage, user.Navigation.DefaultPage)
	if meta.IsDefined("navigation", "navMinTimeMs") {
		result.Navigation.NavMinTimeMs = user.Navigation.NavMinTimeMs
	}
	if meta.IsDefined("navigation", "submitMinTimeMs") {
		result.Navigation.SubmitMinTimeMs = user.Navigation.SubmitMinTimeMs
	}

	// Progress
	mergeInt(&result.Progress.ShowDelayMs, user.Progress.ShowDelayMs)
	mergeInt(&result.Progress.SlowDelayMs, user.Progress.SlowDelayMs)
	mergeInt(&result.Progress.MinVisibleMs, user.Progress.MinVisibleMs)
	mergeInt(&result.Progress.FinishDurationMs, user.Progress.FinishDurationMs)
	mergeInt(&result.Progress.PartialWidth, user.Progress.PartialWidth)

	// Protocol
	mergeString(&result.Protocol.ReloadHeader, user.Protocol.ReloadHeader)
	mergeString(&result.Protocol.ActionHeader, user.Protocol.ActionHeader)
	mergeString(&result.Protocol.LocationHeader, user.Protocol.LocationHeader)
	mergeString(&result.Protocol.ReplaceHeader, user.Protocol.ReplaceHeader)
	mergeString(&result.Protocol.StateHeader, user.Protocol.StateHeader)
	mergeString(&result.Protocol.SubmitHeader, user.Protocol.SubmitHeader)
	mergeString(&result.Protocol.NavDataID, user.Protocol.NavDataID)
	mergeString(&result.Protocol.ContentID, user.Protocol.ContentID)
	mergeString(&result.Protocol.CacheBustParam, user.Protocol.CacheBustParam)

	// Antiforgery
	mergeString(&result.Antiforgery.HeaderName, user.Antiforgery.HeaderName)
	mergeString(&result.Antiforgery.FormFieldName, user.Antiforgery.FormFieldName)

	// Fetcher
	mergeString(&result.Fetcher.UserAgent, user.Fetcher.UserAgent)
	mergeInt(&result.Fetcher.TimeoutSeconds, user.Fetcher.TimeoutSeconds)
	mergeString(&result.Fetcher.ChromePath, user.Fetcher.ChromePath)

	// Session
	if meta.IsDefined("session", "restoreSession") {
		result.Session.RestoreSession = user.Session.RestoreSession
	}
	mergeString(&result.Session.Path, user.Session.Path)

	return &result
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// DefaultTOML returns the default configuration as a TOML string.
// Used for -init-config to generate a user config file.
func DefaultTOML() string {
	return `# pagenav configuration
# Save to ~/.config/pagenav/config.toml and customize
# Only include settings you want to change from defaults

[navigation]
defaultPage = ""              # Page type when the server names none (empty = generic page)
navMinTimeMs = 200            # Minimum duration of a navigation request
submitMinTimeMs = 400         # Minimum duration of a form submission

# Loading indicator timings
[progress]
showDelayMs = 10
slowDelayMs = 1700
minVisibleMs = 500
finishDurationMs = 180
partialWidth = 70

# Names shared with the server
[protocol]
reloadHeader = "page-reload"
actionHeader = "page-action"
locationHeader = "page-location"
replaceHeader = "page-replace"
stateHeader = "page-nav"
submitHeader = "page-submit"
navDataId = "nav-data"
contentId = "page-content"
cacheBustParam = "_"

[antiforgery]
headerName = "RequestVerificationToken"
formFieldName = "__RequestVerificationToken"

# HTTP fetching settings
[fetcher]
userAgent = "pagenav/1.0"
timeoutSeconds = 30
chromePath = ""               # Path to Chrome/Chromium for -chrome (empty = auto-detect)

# Session settings
[session]
restoreSession = true         # Reopen the last committed page on startup
path = ""                     # Journal database (empty = ~/.config/pagenav/session.db)
`
}
