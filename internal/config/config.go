package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"
)

// Course is one configured course. Events whose LOCATION equals Location
// belong to it.
type Course struct {
	// Key is the short course identifier, e.g. "netw".
	Key string `yaml:"key" json:"key"`
	// Location is matched exactly against the event LOCATION property.
	Location string `yaml:"location" json:"location"`
	// Tag is the forum tag id applied to threads of this course (optional).
	Tag string `yaml:"tag,omitempty" json:"tag,omitempty"`
}

// FeedConfig describes the remote calendar export.
type FeedConfig struct {
	// URL is the export endpoint; Token is appended to it verbatim.
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token" json:"-" masq:"secret"`
}

// CacheConfig controls the local feed snapshot.
type CacheConfig struct {
	Path string `yaml:"path" json:"path"`
	// MaxAge, if non-zero, expires snapshots older than this (e.g. "12h").
	MaxAge Duration `yaml:"max_age,omitempty" json:"max_age,omitempty"`
}

// LedgerConfig points at the sqlite publication ledger.
type LedgerConfig struct {
	Path string `yaml:"path" json:"path"`
}

// MessagingConfig selects the chat platform and target channel.
type MessagingConfig struct {
	// Platform is "discord" (forum channel) or "slack".
	Platform  string `yaml:"platform" json:"platform"`
	Token     string `yaml:"token" json:"-" masq:"secret"`
	ChannelID string `yaml:"channel_id" json:"channel_id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-" masq:"secret"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA timezone used to format due dates.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *" or
	// "@every 6h") for periodic sync cycles.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is how far ahead assignments are published.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	Feed      FeedConfig      `yaml:"feed" json:"feed"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Ledger    LedgerConfig    `yaml:"ledger" json:"ledger"`
	Messaging MessagingConfig `yaml:"messaging" json:"messaging"`

	// Courses are matched in order; their order is also the publish order
	// for assignments that share a due date.
	Courses []Course `yaml:"courses" json:"courses"`

	// Listen is the HTTP listen address for the status API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// Duration is a time.Duration that (un)marshals as a string like "6h".
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	if d == 0 {
		return "", nil
	}
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	s := strings.TrimSpace(node.Value)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return goerr.Wrap(err, "invalid duration", goerr.V("value", s))
	}
	*d = Duration(v)
	return nil
}

// defaultCourses is the course set of the bot deployment; the
// locations are institution specific and must be filled in.
func defaultCourses() []Course {
	return []Course{
		{Key: "prog"},
		{Key: "webd"},
		{Key: "netw"},
		{Key: "osys"},
		{Key: "dbas"},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:    "America/Toronto",
		RefreshCron: "0 */6 * * *",
		HorizonDays: 30,
		Cache: CacheConfig{
			Path: "/var/lib/assignbot/feed.json",
		},
		Ledger: LedgerConfig{
			Path: "/var/lib/assignbot/ledger.db",
		},
		Messaging: MessagingConfig{
			Platform: PlatformDiscord,
		},
		Courses:   defaultCourses(),
		Listen:    "",
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = "America/Toronto"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 */6 * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 30
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "/var/lib/assignbot/feed.json"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "/var/lib/assignbot/ledger.db"
	}
	c.Messaging.Platform = strings.ToLower(strings.TrimSpace(c.Messaging.Platform))
	if c.Messaging.Platform == "" {
		c.Messaging.Platform = PlatformDiscord
	}
	if c.Courses == nil {
		c.Courses = defaultCourses()
	}
	for i := range c.Courses {
		c.Courses[i].Key = strings.ToLower(strings.TrimSpace(c.Courses[i].Key))
	}
}

// Validate reports settings that make a sync cycle impossible. It is
// called before running the pipeline, not on Load, so that a fresh default
// file can still be written and edited.
func (c *Config) Validate() error {
	var errs []error
	if c.Feed.URL == "" {
		errs = append(errs, errors.New("feed.url is required"))
	}
	if c.Messaging.ChannelID == "" {
		errs = append(errs, errors.New("messaging.channel_id is required"))
	}
	if c.Messaging.Token == "" {
		errs = append(errs, errors.New("messaging.token is required"))
	}
	switch c.Messaging.Platform {
	case PlatformDiscord, PlatformSlack:
	default:
		errs = append(errs, errors.New("messaging.platform must be discord or slack"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, goerr.Wrap(err, "invalid timezone", goerr.V("timezone", c.Timezone)))
	}

	seen := make(map[string]bool, len(c.Courses))
	for _, course := range c.Courses {
		if course.Key == "" {
			errs = append(errs, errors.New("course key must not be empty"))
			continue
		}
		if seen[course.Key] {
			errs = append(errs, goerr.New("duplicate course key", goerr.V("key", course.Key)))
		}
		seen[course.Key] = true
	}

	if len(errs) > 0 {
		return goerr.Wrap(errors.Join(errs...), "invalid configuration")
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load reads the YAML config at path. On first run, when path does not
// exist, the defaults are written there and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config", goerr.V("path", path))
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically: the YAML is written to a temp file in
// the same directory (created 0700 if missing), synced, chmod 0600 and
// renamed over path.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return goerr.Wrap(err, "failed to create config directory", goerr.V("dir", dir))
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return goerr.Wrap(err, "failed to encode config")
	}

	tmp, err := os.CreateTemp(dir, ".assignbot-config-*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp config", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write config", goerr.V("path", tmpName))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to sync config", goerr.V("path", tmpName))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close config", goerr.V("path", tmpName))
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return goerr.Wrap(err, "failed to chmod config", goerr.V("path", tmpName))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return goerr.Wrap(err, "failed to replace config", goerr.V("path", path))
	}
	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
