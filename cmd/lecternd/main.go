package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"

	"github.com/lectern-app/lectern/auth"
	"github.com/lectern-app/lectern/oauth"
	"github.com/lectern-app/lectern/server"
	"github.com/lectern-app/lectern/session"
	"github.com/lectern-app/lectern/util/cliutil"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "lecternd",
		Usage:   "lectern API server (sign-in, sessions, bookmarks, feeds)",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (sqlite:// or postgres://)",
			Value:   "sqlite://data/lectern/lectern.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL; empty selects the in-process cache",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "session-secret",
			Usage:   "key for state HMACs and IP hashing; at least 32 bytes",
			EnvVars: []string{"SESSION_SECRET"},
		},
		&cli.StringFlag{
			Name:    "google-client-id",
			EnvVars: []string{"GOOGLE_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "google-client-secret",
			EnvVars: []string{"GOOGLE_CLIENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "google-redirect-uri",
			Usage:   "server-side OAuth redirect URI",
			EnvVars: []string{"GOOGLE_REDIRECT_URI"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on",
			Value:   ":2583",
			EnvVars: []string{"LECTERND_BIND"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   40,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "info|debug|warn|error",
			EnvVars: []string{"LECTERN_LOG_LEVEL"},
		},
	}

	app.Action = runServer
	return app.Run(args)
}

func runServer(cctx *cli.Context) error {
	logger, err := cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel: cctx.String("log-level"),
	})
	if err != nil {
		return err
	}

	secret := cctx.String("session-secret")
	if len(secret) < 32 {
		return fmt.Errorf("session-secret must be at least 32 bytes")
	}

	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return err
	}

	var cache session.CacheStore
	if redisURL := cctx.String("redis-url"); redisURL != "" {
		cache, err = session.NewRedisCacheStore(redisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	} else {
		logger.Warn("no redis-url configured, using in-process cache")
		cache = session.NewMemCacheStore(10_000, time.Hour)
	}

	provider := oauth.NewClient(oauth.ClientConfig{
		ClientID:     cctx.String("google-client-id"),
		ClientSecret: cctx.String("google-client-secret"),
		RedirectURI:  cctx.String("google-redirect-uri"),
	})
	sessions := session.NewStore(db, cache)
	authsvc := auth.NewService(db, sessions, provider, []byte(secret))

	srv, err := server.NewServer(db, sessions, authsvc, server.Config{
		Logger: logger.With(slog.String("system", "server")),
		Bind:   cctx.String("bind"),
	})
	if err != nil {
		return err
	}
	return srv.RunAPI()
}
