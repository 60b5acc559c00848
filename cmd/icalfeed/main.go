package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/oklog/run"
	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-envconfig"

	"icalfeed/internal/config"
	"icalfeed/internal/feed"
	"icalfeed/internal/ics"
	"icalfeed/internal/importer"
	appLog "icalfeed/internal/log"
	"icalfeed/internal/recur"
	"icalfeed/internal/render"
	"icalfeed/internal/store"
	"icalfeed/internal/web"
)

// envConfig is read from the environment; flags override it.
type envConfig struct {
	ConfigPath string `env:"ICALFEED_CONFIG, default=./config.yaml"`
	Listen     string `env:"ICALFEED_LISTEN"`
	Database   string `env:"ICALFEED_DATABASE"`
	LogLevel   string `env:"ICALFEED_LOG_LEVEL, default=info"`
	LogFormat  string `env:"ICALFEED_LOG_FORMAT, default=text"`
}

type flagConfig struct {
	configPath string
	listen     string
	database   string
	once       bool
	view       string
	runImport  bool
}

func main() {
	if err := realMain(); err != nil {
		appLog.Error("icalfeed failed", err)
		os.Exit(1)
	}
}

func realMain() error {
	ctx := context.Background()

	var env envConfig
	if err := envconfig.Process(ctx, &env); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	flags := parseFlags(env)

	appLog.SetOutput(os.Stderr, appLog.Format(env.LogFormat))
	appLog.SetLevel(appLog.ParseLevel(env.LogLevel))
	slog.SetDefault(appLog.Logger())

	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", flags.configPath, err)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.database != "" {
		conf.Database = flags.database
	}
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLog.Info("effective config",
		"config_path", flags.configPath,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.Database,
		"refresh", conf.RefreshCron,
		"views", len(conf.Views),
		"imports", len(conf.Imports),
		"once", flags.once,
	)

	dbx, err := store.Open(conf.Database)
	if err != nil {
		return err
	}
	defer dbx.Close()
	repo := store.New(dbx)

	expander := recur.New(recur.Config{
		MaxOccurrences: conf.Recurrence.MaxOccurrences,
		Horizon:        days(conf.Recurrence.HorizonDays),
		Backfill:       days(conf.Recurrence.BackfillDays),
	})
	feeds := feed.NewService(repo, render.NewRenderer(repo, expander))
	imp := importer.New(repo, ics.NewFetcher(conf.CacheDir, nil))

	if flags.once {
		return runOnce(ctx, conf, flags, feeds, imp)
	}
	return serve(ctx, conf, feeds, imp)
}

// runOnce runs the imports and/or renders one view to stdout, then exits.
func runOnce(ctx context.Context, conf *config.Config, flags flagConfig, feeds *feed.Service, imp *importer.Importer) error {
	if !flags.runImport && flags.view == "" {
		return errors.New("-once needs -import and/or -view")
	}

	if flags.runImport {
		if _, err := imp.Run(ctx, conf.Imports); err != nil {
			return err
		}
	}

	if flags.view != "" {
		view, ok := conf.View(flags.view)
		if !ok {
			return fmt.Errorf("unknown view %q", flags.view)
		}
		res, err := feeds.Write(ctx, os.Stdout, view, conf.Timezone)
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			appLog.Warn("feed rendered with warning", "view", view.ID, "warning", w)
		}
	}
	return nil
}

// serve runs the HTTP server and the scheduled import job until a signal
// arrives or either actor fails.
func serve(ctx context.Context, conf *config.Config, feeds *feed.Service, imp *importer.Importer) error {
	var g run.Group

	{
		srv := web.NewServer(conf, feeds).HTTPServer()
		g.Add(func() error {
			appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				appLog.Error("HTTP shutdown failed", err)
			}
		})
	}

	if len(conf.Imports) > 0 {
		jobCtx, cancel := context.WithCancel(ctx)
		c := cron.New()
		if _, err := c.AddFunc(conf.RefreshCron, func() {
			if _, err := imp.Run(jobCtx, conf.Imports); err != nil {
				appLog.Error("scheduled import finished with errors", err)
			}
		}); err != nil {
			cancel()
			return fmt.Errorf("schedule imports: %w", err)
		}

		g.Add(func() error {
			// Import once at startup so feeds are populated before the
			// first tick.
			if _, err := imp.Run(jobCtx, conf.Imports); err != nil {
				appLog.Error("initial import finished with errors", err)
			}
			c.Start()
			<-jobCtx.Done()
			return nil
		}, func(error) {
			cancel()
			<-c.Stop().Done()
		})
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err := g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		appLog.Info("signal received, shutting down", "signal", sigErr.Signal.String())
		return nil
	}
	return err
}

func parseFlags(env envConfig) flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", env.ConfigPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", env.Listen, "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.database, "db", env.Database, "sqlite database path (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run once and exit instead of serving")
	flag.StringVar(&cfg.view, "view", "", "With -once: render this view to stdout")
	flag.BoolVar(&cfg.runImport, "import", false, "With -once: run all configured imports")

	flag.Parse()

	return cfg
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
