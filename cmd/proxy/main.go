// Command proxy runs the logging reverse proxy: every request on the proxy
// port is relayed to a single upstream target and described as a log event
// that dashboard observers receive live over a websocket.
//
// Usage:
//
//	proxy --port 4000 --target http://localhost:3000
//	proxy --config /etc/logging-proxy/config.yml
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logging_proxy/internal/config"
	"logging_proxy/internal/handlers"
	"logging_proxy/internal/logger"
	"logging_proxy/internal/metrics"
	"logging_proxy/internal/proxy"
	"logging_proxy/internal/repository"
	"logging_proxy/internal/repository/db"
	"logging_proxy/internal/server"
	"logging_proxy/internal/service"

	_ "logging_proxy/docs"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const shutdownTimeout = 10 * time.Second

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Reverse proxy that publishes a live log of every request",
	Long: `Relay every inbound HTTP request to one upstream target and publish a log
event for it (method, host, path, target and the decoded body when it is JSON or
a form). Observers follow the events on the dashboard port at /ws.`,
	SilenceUsage: true,
	RunE:         run,
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"port":           "proxy.port",
	"target":         "proxy.target",
	"dashboard-port": "dashboard.port",
	"log-level":      "log.level",
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default configs/config.yml)")
	flags.StringP("port", "p", config.DefaultProxyPort, "proxy listening port")
	flags.StringP("target", "t", config.DefaultTarget, "upstream target URL or host[:port]")
	flags.String("dashboard-port", config.DefaultDashboardPort, "dashboard listening port")
	flags.String("log-level", logger.InfoLevel, "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds everything that needs an orderly shutdown.
type app struct {
	log       *logger.Logger
	events    *service.Broadcaster
	proxySrv  *server.Server
	dashSrv   *server.Server
	sqlite    *sql.DB
	redis     *redis.Client
	reporter  *service.StatsReporter
	cancelBgs context.CancelFunc
}

func run(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	// init logger
	log := logger.Get(cfg.Log.Level)
	defer func() { _ = log.Sync() }()
	if config.WatchLogLevel(v, func(level string, e fsnotify.Event) {
		log.SetLevel(level)
		log.Infow("log_level_reloaded", "level", log.Level(), "file", e.Name)
	}) {
		log.Debugw("watching config file", "file", v.ConfigFileUsed())
	}
	gin.SetMode(gin.ReleaseMode)

	a, err := build(cfg, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- a.proxySrv.Serve() }()
	go func() { errCh <- a.dashSrv.Serve() }()

	log.Infof("Proxy listening on port %s and proxying %s", cfg.Proxy.Port, cfg.Proxy.TargetDescription)
	log.Infow("dashboard listening", "port", cfg.Dashboard.Port, "auth", cfg.Dashboard.Auth.Enabled)

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case sig := <-quit:
		log.Infow("shutting down server...", "signal", sig.String())
	case serveErr = <-errCh:
		log.Errorw("server stopped unexpectedly", "err", serveErr)
	}

	return multierr.Append(serveErr, a.shutdown())
}

// build wires config into the running components. Both listeners are bound
// before it returns so port conflicts fail startup.
func build(cfg *config.Config, log *logger.Logger) (*app, error) {
	m := metrics.New(nil)
	a := &app{log: log, events: service.NewBroadcaster(cfg.Events.QueueSize, m)}

	var repos *repository.Repository
	if cfg.Dashboard.Auth.Enabled {
		conn, err := db.InitDB(cfg.DB.Path)
		if err != nil {
			log.Errorw("failed to init sqlite", "err", err, "path", cfg.DB.Path)
			return nil, err
		}
		a.sqlite = conn
		repos = repository.NewRepository(conn)
	}
	services := service.NewService(a.events, repos, service.AuthOptions{
		SigningKey: cfg.Dashboard.Auth.SigningKey,
		TokenTTL:   cfg.Dashboard.Auth.TokenTTL,
	})

	fwd := proxy.NewForwarder(proxy.Config{
		Target:                cfg.Proxy.TargetURL,
		TargetDescription:     cfg.Proxy.TargetDescription,
		PreserveHost:          cfg.Proxy.PreserveHost,
		MaxBodyCapture:        cfg.Proxy.MaxBodyCapture,
		InsecureSkipVerify:    cfg.Proxy.InsecureSkipVerify,
		DialTimeout:           cfg.Proxy.DialTimeout,
		ResponseHeaderTimeout: cfg.Proxy.ResponseHeaderTimeout,
	}, a.events, log, m)

	dashboard := handlers.NewHandler(services, log,
		handlers.WithAuth(cfg.Dashboard.Auth.Enabled),
		handlers.WithMetrics(m.Handler()),
		handlers.WithAllowedOrigins(cfg.Dashboard.AllowedOrigins),
	)

	// proxied responses and observer streams are unbounded
	noWriteTimeout := time.Duration(0)
	a.proxySrv = &server.Server{ProxyProtocol: cfg.Proxy.ProxyProtocol, ErrorLog: log.StdLog(), WriteTimeout: &noWriteTimeout}
	a.dashSrv = &server.Server{ErrorLog: log.StdLog(), WriteTimeout: &noWriteTimeout}

	if err := a.proxySrv.Listen(cfg.Proxy.Port, proxy.NewRouter(fwd, log, m.Middleware())); err != nil {
		a.closeStores()
		return nil, err
	}
	if err := a.dashSrv.Listen(cfg.Dashboard.Port, dashboard.InitRoutes()); err != nil {
		_ = a.proxySrv.Close()
		a.closeStores()
		return nil, err
	}

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	a.cancelBgs = cancel

	if cfg.Relay.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Relay.Redis.Addr})
		go service.NewRedisRelay(a.redis, cfg.Relay.Redis.Channel, log).Run(ctx, a.events)
	}

	if cfg.Stats.Schedule != "" {
		reporter, err := service.NewStatsReporter(cfg.Stats.Schedule, a.events, log)
		if err != nil {
			log.Warnw("stats reporter disabled", "schedule", cfg.Stats.Schedule, "err", err)
		} else {
			a.reporter = reporter
			reporter.Start()
		}
	}

	return a, nil
}

func (a *app) shutdown() error {
	// stop background goroutines
	if a.cancelBgs != nil {
		a.cancelBgs()
	}
	if a.reporter != nil {
		a.reporter.Stop()
	}

	// allow in-flight requests to complete
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	err = multierr.Append(err, a.proxySrv.Shutdown(ctx))
	// observer connections are hijacked; closing the stream releases them
	a.events.Close()
	err = multierr.Append(err, a.dashSrv.Shutdown(ctx))
	err = multierr.Append(err, a.closeStores())

	if err != nil {
		a.log.Errorw("server forced to shutdown", "err", err)
	}
	return err
}

func (a *app) closeStores() error {
	var err error
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	if a.sqlite != nil {
		err = multierr.Append(err, a.sqlite.Close())
	}
	return err
}
