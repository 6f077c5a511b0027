package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/gorm"

	"github.com/lectern-app/lectern/auth"
	"github.com/lectern-app/lectern/models"
	"github.com/lectern-app/lectern/session"
)

type Config struct {
	Logger *slog.Logger
	Bind   string
}

// Server is the lectern API daemon: the auth/session endpoints plus the
// protected bookmark and feed surfaces.
type Server struct {
	db       *gorm.DB
	auth     *auth.Service
	sessions *session.Store
	echo     *echo.Echo
	httpd    *http.Server
	logger   *slog.Logger
}

func NewServer(db *gorm.DB, sessions *session.Store, authsvc *auth.Service, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("system", "server")
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Bookmark{},
		&models.Feed{},
	); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	srv := &Server{
		db:       db,
		auth:     authsvc,
		sessions: sessions,
		echo:     e,
		logger:   logger,
	}
	srv.httpd = &http.Server{
		Handler:        e,
		Addr:           config.Bind,
		ReadTimeout:    time.Minute,
		WriteTimeout:   time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/v1/auth/initiate", srv.HandleInitiate)
	e.POST("/v1/auth/callback", srv.HandleCallback)

	protected := e.Group("", srv.requireSession)
	protected.POST("/v1/auth/refresh", srv.HandleRefresh)
	protected.POST("/v1/auth/signout", srv.HandleSignOut)
	protected.GET("/v1/auth/profile", srv.HandleProfile)
	protected.GET("/v1/auth/sessions", srv.HandleSessions)

	protected.POST("/v1/bookmarks", srv.HandleCreateBookmark)
	protected.GET("/v1/bookmarks", srv.HandleListBookmarks)
	protected.DELETE("/v1/bookmarks/:id", srv.HandleDeleteBookmark)

	protected.POST("/v1/feeds", srv.HandleSubscribeFeed)
	protected.GET("/v1/feeds", srv.HandleListFeeds)
	protected.DELETE("/v1/feeds/:id", srv.HandleUnsubscribeFeed)

	return srv, nil
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// RunAPI serves until SIGINT/SIGTERM, then shuts down gracefully. It also
// runs the expired-session sweep on a fixed interval.
func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go srv.runSweeper(sweepCtx)

	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)
		cancelSweep()
		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}
		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

const sweepInterval = time.Hour

func (srv *Server) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := srv.sessions.SweepExpired(ctx); err != nil {
				srv.logger.Error("session sweep failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (srv *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.httpd.Shutdown(ctx)
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
