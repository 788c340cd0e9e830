package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"assignbot/internal/config"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := config.Load(path)
	gt.NoError(t, err)
	gt.Equal(t, cfg.HorizonDays, 30)
	gt.Equal(t, cfg.RefreshCron, "0 */6 * * *")
	gt.Equal(t, len(cfg.Courses), 5)

	info, err := os.Stat(path)
	gt.NoError(t, err)
	gt.Equal(t, info.Mode().Perm(), os.FileMode(0o600))

	// Loading again reads the written file.
	again, err := config.Load(path)
	gt.NoError(t, err)
	gt.Equal(t, again.Courses[2].Key, "netw")
}

func TestLoad_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
timezone: UTC
refresh: "@every 2h"
horizon_days: 14
feed:
  url: https://lms.example.com/feed.ics?token=
  token: abc
cache:
  path: /tmp/feed.json
  max_age: 12h
ledger:
  path: /tmp/ledger.db
messaging:
  platform: Slack
  token: xoxb-1
  channel_id: C123
courses:
  - key: NETW
    location: NETW-2001
    tag: "1432035950397096087"
  - key: prog
    location: PROG-1001
listen: 127.0.0.1:9090
`
	gt.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := config.Load(path)
	gt.NoError(t, err)
	gt.Equal(t, cfg.Timezone, "UTC")
	gt.Equal(t, cfg.RefreshCron, "@every 2h")
	gt.Equal(t, cfg.HorizonDays, 14)
	gt.Equal(t, cfg.Feed.Token, "abc")
	gt.Equal(t, time.Duration(cfg.Cache.MaxAge), 12*time.Hour)
	gt.Equal(t, cfg.Messaging.Platform, config.PlatformSlack)
	gt.Equal(t, cfg.Courses[0].Key, "netw")
	gt.Equal(t, cfg.Courses[0].Tag, "1432035950397096087")
	gt.Equal(t, cfg.Listen, "127.0.0.1:9090")
	gt.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	gt.NoError(t, os.WriteFile(path, []byte("courses: [unterminated"), 0o600))

	_, err := config.Load(path)
	gt.Error(t, err)
}

func TestLoad_EmptyPath(t *testing.T) {
	_, err := config.Load("")
	gt.Error(t, err)
}

func TestNormalize(t *testing.T) {
	cfg := &config.Config{}
	cfg.Normalize()

	gt.Equal(t, cfg.HorizonDays, 30)
	gt.Equal(t, cfg.Messaging.Platform, config.PlatformDiscord)
	gt.Equal(t, cfg.Cache.Path, "/var/lib/assignbot/feed.json")
	gt.Equal(t, cfg.Ledger.Path, "/var/lib/assignbot/ledger.db")
	gt.Equal(t, len(cfg.Courses), 5)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.Timezone = "UTC"
		cfg.Feed.URL = "https://lms.example.com/feed.ics"
		cfg.Messaging.Token = "bot-token"
		cfg.Messaging.ChannelID = "123"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *config.Config) {}},
		{name: "missing feed url", mutate: func(c *config.Config) { c.Feed.URL = "" }, wantErr: true},
		{name: "missing channel", mutate: func(c *config.Config) { c.Messaging.ChannelID = "" }, wantErr: true},
		{name: "missing token", mutate: func(c *config.Config) { c.Messaging.Token = "" }, wantErr: true},
		{name: "unknown platform", mutate: func(c *config.Config) { c.Messaging.Platform = "irc" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *config.Config) { c.Timezone = "Mars/Olympus" }, wantErr: true},
		{
			name: "duplicate course",
			mutate: func(c *config.Config) {
				c.Courses = append(c.Courses, config.Course{Key: "netw"})
			},
			wantErr: true,
		},
		{
			name:    "empty course key",
			mutate:  func(c *config.Config) { c.Courses = []config.Course{{Key: ""}} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				gt.Error(t, err)
			} else {
				gt.NoError(t, err)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Cache.MaxAge = config.Duration(90 * time.Minute)
	cfg.Courses = []config.Course{{Key: "netw", Location: "NETW-2001", Tag: "42"}}
	gt.NoError(t, cfg.Save(path))

	loaded, err := config.Load(path)
	gt.NoError(t, err)
	gt.Equal(t, time.Duration(loaded.Cache.MaxAge), 90*time.Minute)
	gt.Equal(t, loaded.Courses, cfg.Courses)
}
