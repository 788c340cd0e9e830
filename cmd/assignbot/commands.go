package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"assignbot/internal/ledger"
	appLog "assignbot/internal/log"
	"assignbot/internal/scheduler"
	"assignbot/internal/web"
)

func cmdRun(g *globalFlags) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Sync now, then on the refresh schedule (default)",
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, g)
		},
	}
}

func serve(ctx context.Context, g *globalFlags) error {
	appLog.Info("assignbot starting", "version", version)

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	logEffectiveConfig(cfg)

	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(cfg.RefreshCron, svc.pipeline.Run)
	if err != nil {
		return err
	}

	var server *http.Server
	if cfg.Listen != "" {
		server = web.NewServer(cfg, svc.pipeline, svc.ledger, svc.cache, web.WithTrigger(sched)).HTTPServer()
		go func() {
			appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLog.Error("HTTP server error", err)
			}
		}()
	}

	sched.Start(ctx)
	<-ctx.Done()
	appLog.Info("signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLog.Error("failed to shutdown HTTP server gracefully", err)
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("assignbot exiting")
	return nil
}

func cmdOnce(g *globalFlags) *cli.Command {
	return &cli.Command{
		Name:  "once",
		Usage: "Run a single sync cycle and exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			svc, err := newService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := svc.pipeline.RunCycle(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("cycle %s: %d selected, %d posted, %d already posted, %d failed\n",
				report.CycleID, report.Selected, len(report.Posted), report.Skipped, report.Failed)
			return nil
		},
	}
}

func cmdInvalidateCache(g *globalFlags) *cli.Command {
	return &cli.Command{
		Name:  "invalidate-cache",
		Usage: "Delete the feed snapshot so the next cycle fetches the calendar",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			cache := newCache(cfg)
			if err := cache.Invalidate(ctx); err != nil {
				return err
			}
			appLog.Info("feed snapshot invalidated", "path", cache.Path())
			return nil
		},
	}
}

func cmdAssignments(g *globalFlags) *cli.Command {
	var limit int64

	return &cli.Command{
		Name:  "assignments",
		Usage: "List assignments already posted",
		Flags: []cli.Flag{
			&cli.IntFlag{ // int64 flag (named Int64Flag in cli v3.1+)
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "Maximum number of records (0 for all)",
				Value:       20,
				Destination: &limit,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			l, err := ledger.Open(cfg.Ledger.Path)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			recs, err := l.List(ctx, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list assignments")
			}
			if len(recs) == 0 {
				fmt.Println("no assignments posted yet")
				return nil
			}

			loc := cfg.Location()
			course := color.New(color.FgCyan, color.Bold).SprintFunc()
			due := color.New(color.FgYellow).SprintFunc()
			faint := color.New(color.Faint).SprintFunc()
			for _, r := range recs {
				fmt.Printf("%s %s  %s  %s\n",
					course(fmt.Sprintf("%-5s", r.CourseKey)),
					due(r.DueDate.In(loc).Format("2006-01-02 15:04")),
					r.Title,
					faint("thread="+r.ThreadID),
				)
			}
			return nil
		},
	}
}
