package main

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"assignbot/internal/config"
	"assignbot/internal/feedcache"
	"assignbot/internal/ics"
	"assignbot/internal/ingest"
	"assignbot/internal/ledger"
	appLog "assignbot/internal/log"
	"assignbot/internal/messaging"
	"assignbot/internal/pipeline"
	"assignbot/internal/publish"
)

const version = "0.1.0"

// globalFlags holds values shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool

	feedToken string
	botToken  string
	channelID string
	listen    string
}

func (g *globalFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to config file",
			Value:       "/etc/assignbot/config.yaml",
			Destination: &g.configPath,
			Sources:     cli.EnvVars("ASSIGNBOT_CONFIG"),
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &g.logLevel,
			Sources:     cli.EnvVars("ASSIGNBOT_LOG_LEVEL"),
		},
		&cli.BoolFlag{
			Name:        "log-json",
			Usage:       "Output logs in JSON format",
			Destination: &g.logJSON,
			Sources:     cli.EnvVars("ASSIGNBOT_LOG_JSON"),
		},
		&cli.StringFlag{
			Name:        "feed-token",
			Usage:       "Calendar export token (overrides feed.token)",
			Destination: &g.feedToken,
			Sources:     cli.EnvVars("ASSIGNBOT_FEED_TOKEN"),
		},
		&cli.StringFlag{
			Name:        "bot-token",
			Usage:       "Messaging bot token (overrides messaging.token)",
			Destination: &g.botToken,
			Sources:     cli.EnvVars("ASSIGNBOT_BOT_TOKEN"),
		},
		&cli.StringFlag{
			Name:        "channel-id",
			Usage:       "Forum channel id (overrides messaging.channel_id)",
			Destination: &g.channelID,
			Sources:     cli.EnvVars("ASSIGNBOT_CHANNEL_ID"),
		},
		&cli.StringFlag{
			Name:        "listen",
			Usage:       "Status API listen address (overrides listen)",
			Destination: &g.listen,
			Sources:     cli.EnvVars("ASSIGNBOT_LISTEN"),
		},
	}
}

// loadConfig reads the config file and applies flag overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load config", goerr.V("path", g.configPath))
	}
	if g.feedToken != "" {
		cfg.Feed.Token = g.feedToken
	}
	if g.botToken != "" {
		cfg.Messaging.Token = g.botToken
	}
	if g.channelID != "" {
		cfg.Messaging.ChannelID = g.channelID
	}
	if g.listen != "" {
		cfg.Listen = g.listen
	}
	cfg.Normalize()
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	var g globalFlags

	app := &cli.Command{
		Name:    "assignbot",
		Usage:   "Publish upcoming course assignments from a calendar feed as forum threads",
		Version: version,
		Flags:   g.flags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := appLog.Configure(g.logLevel, g.logJSON, os.Stderr); err != nil {
				return ctx, err
			}
			return ctx, nil
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, &g)
		},
		Commands: []*cli.Command{
			cmdRun(&g),
			cmdOnce(&g),
			cmdInvalidateCache(&g),
			cmdAssignments(&g),
		},
	}

	if err := app.Run(ctx, args); err != nil {
		appLog.Error("assignbot failed", err)
		return err
	}
	return nil
}

// service holds the components of a running bot.
type service struct {
	cfg      *config.Config
	cache    *feedcache.FileCache
	ledger   *ledger.Ledger
	pipeline *pipeline.Pipeline
}

func newService(cfg *config.Config) (*service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := messaging.New(cfg.Messaging.Platform, cfg.Messaging.Token)
	if err != nil {
		return nil, err
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}

	cache := newCache(cfg)
	courses := make([]ingest.Course, 0, len(cfg.Courses))
	for _, c := range cfg.Courses {
		courses = append(courses, ingest.Course{Key: c.Key, LocationMatch: c.Location, ForumTag: c.Tag})
	}
	ing := ingest.New(courses, ics.NewFetcher(cfg.Feed.URL, cfg.Feed.Token), cache)
	pub := publish.New(l, cfg.Messaging.ChannelID, publish.WithLocation(cfg.Location()))

	return &service{
		cfg:      cfg,
		cache:    cache,
		ledger:   l,
		pipeline: pipeline.New(ing, pub, client, pipeline.WithHorizonDays(cfg.HorizonDays)),
	}, nil
}

func (s *service) Close() {
	if err := s.ledger.Close(); err != nil {
		appLog.Error("failed to close ledger", err)
	}
}

func newCache(cfg *config.Config) *feedcache.FileCache {
	return feedcache.New(cfg.Cache.Path, feedcache.WithMaxAge(time.Duration(cfg.Cache.MaxAge)))
}

func logEffectiveConfig(cfg *config.Config) {
	appLog.Info("effective config",
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"horizon_days", cfg.HorizonDays,
		"platform", cfg.Messaging.Platform,
		"channel_id", cfg.Messaging.ChannelID,
		"cache_path", cfg.Cache.Path,
		"cache_max_age", time.Duration(cfg.Cache.MaxAge).String(),
		"ledger_path", cfg.Ledger.Path,
		"course_count", len(cfg.Courses),
		"listen", cfg.Listen,
	)
}
