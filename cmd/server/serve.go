package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
	"github.com/urfave/cli/v2"

	"fusion-svr/internal/config"
	"fusion-svr/internal/cot"
	"fusion-svr/internal/feed"
	"fusion-svr/internal/health"
	"fusion-svr/internal/observability"
	"fusion-svr/internal/registry"
	"fusion-svr/internal/server"
	"fusion-svr/internal/store"
	"fusion-svr/internal/stream"
	"fusion-svr/internal/tak"
)

const (
	storeTimeout     = 500 * time.Millisecond
	announceInterval = cot.EntityStale / 2
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the backend",
		Description: `Connects to the TAK server, starts the configured cameras and serves
metrics, health, HLS output and the live feed.

Configuration is read from CONFIG_PATH (or config.yaml) and the environment.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				EnvVars: []string{config.ConfigPathEnvVar},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return run(c.Context, cfg)
		},
	}
}

func run(parent context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("starting fusion-svr", "version", Version, "tak", cfg.TAK.Gateway().Addr())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rs *store.RedisStore
	if cfg.Redis.Enabled {
		rs = store.NewRedisStore(store.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
			Logger:       logger,
		})
		defer rs.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			logger.Warn("redis unavailable, continuing without persistence until it recovers", "err", err)
		} else {
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
		cancel()
	}

	supervisor := stream.New(stream.Options{
		Binary:         cfg.Streams.Binary,
		StartupTimeout: cfg.Streams.StartupTimeout,
		PublicPrefix:   cfg.Streams.PublicPrefix,
		Logger:         logger,
	})
	defer supervisor.StopAll()

	gateway, err := tak.New(cfg.TAK.Gateway(), logger)
	if err != nil {
		return fmt.Errorf("tak gateway: %w", err)
	}
	logger.Info("tak client identity", "uid", gateway.UID())

	hub := feed.NewHub(logger)

	var snapshots registry.Snapshotter
	if rs != nil {
		snapshots = rs
	}
	reg := registry.New(registry.Options{
		Streams:   supervisor,
		Announcer: gateway,
		Store:     snapshots,
		OutputDir: cfg.Streams.OutputDir,
		Logger:    logger,
	})

	wire(logger, gateway, supervisor, reg, hub, rs)

	for _, cc := range cfg.Cameras {
		if _, err := reg.RegisterCamera(ctx, cc); err != nil {
			logger.Error("camera registration failed", "camera", cc.ID, "err", err)
		}
	}

	reporter := health.NewReporter(gateway, supervisor, cfg.Server.HealthInterval, logger)
	router := server.NewRouter(server.RouterOptions{
		StreamsDir: cfg.Streams.OutputDir,
		Gateway:    gateway,
		Streams:    supervisor,
		Feed:       hub.Handler(cfg.Feed.AllowedOrigins),
	})

	root := suture.New("fusion-svr", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: logger}).MustHook(),
		Timeout:   cfg.Server.ShutdownTimeout,
	})
	root.Add(gateway)
	root.Add(hub)
	root.Add(reporter)
	root.Add(newPeriodic("camera-announcer", announceInterval, func() {
		reg.AnnounceAll()
	}))
	root.Add(server.NewHTTPServerService(listenAddr(cfg.Server.HTTPPort), nil, router, cfg.Server.ShutdownTimeout, logger))
	root.Add(health.NewGRPCServerService(listenAddr(cfg.Server.GRPCPort), nil, reporter, logger))

	err = root.Serve(ctx)
	gateway.Disconnect()

	if unstopped, _ := root.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn("service failed to stop", "service", svc.Name)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logger.Info("fusion-svr stopped")
	return nil
}

// wire connects the gateway and the supervisor to the registry, the feed
// and the store.
func wire(logger *slog.Logger, gw *tak.Gateway, sup *stream.Supervisor, reg *registry.Registry, hub *feed.Hub, rs *store.RedisStore) {
	gw.On(tak.EventConnect, func(tak.Notification) {
		hub.Broadcast(feed.TypeTAK, map[string]string{"state": tak.StateConnected.String()})
		if n := reg.AnnounceAll(); n > 0 {
			logger.Info("cameras announced", "count", n)
		}
	})
	gw.On(tak.EventDisconnect, func(tak.Notification) {
		hub.Broadcast(feed.TypeTAK, map[string]string{"state": tak.StateDisconnected.String()})
	})
	gw.On(tak.EventMessage, func(n tak.Notification) {
		ev := *n.Event
		reg.HandleEvent(ev)
		hub.Broadcast(feed.TypeEvent, ev)
		if rs == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := rs.SaveTrack(ctx, ev); err != nil {
			logger.Debug("track not saved", "uid", ev.UID, "err", err)
		}
		if err := rs.PublishEvent(ctx, ev); err != nil {
			logger.Debug("event not published", "uid", ev.UID, "err", err)
		}
	})

	sup.OnStateChange(func(id string, st stream.State) {
		hub.Broadcast(feed.TypeStream, map[string]string{"id": id, "state": st.String()})
	})
}

func listenAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}
