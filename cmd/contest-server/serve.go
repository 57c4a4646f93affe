package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contest-rpc/config"
	"contest-rpc/log"
	"contest-rpc/registry"
	"contest-rpc/server"
	"contest-rpc/service"
	"contest-rpc/session"
	"contest-rpc/store"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the contest server",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := config.New()
			if err := config.BindFlags(v, cmd.Flags(), map[string]string{
				"host":  "server.host",
				"port":  "server.port",
				"admin": "server.admin_addr",
			}); err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, path)
			if err != nil {
				return err
			}
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				cfg.Log.Level = "debug"
			}
			if err := log.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().String("host", "localhost", "listen host")
	cmd.Flags().IntP("port", "p", 8888, "listen port")
	cmd.Flags().String("admin", "", "admin HTTP address (healthz, metrics, sessions), empty disables")
	return cmd
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var st store.Store
	switch cfg.Driver {
	case "redis":
		rs := store.NewRedisStore(cfg.Redis.Address, cfg.Redis.Prefix, cfg.Redis.MaxIdle, cfg.Redis.MaxActive)
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, errors.Wrapf(err, "redis %s", cfg.Redis.Address)
		}
		st = rs
	default:
		st = store.NewMemoryStore()
	}

	seed := store.DefaultSeed()
	if cfg.SeedFile != "" {
		var err error
		if seed, err = store.LoadSeed(cfg.SeedFile); err != nil {
			st.Close()
			return nil, err
		}
	}
	if err := seed.Apply(ctx, st); err != nil {
		st.Close()
		return nil, errors.Wrap(err, "apply seed")
	}
	return st, nil
}

func run(cfg *config.Config) error {
	logger := log.Component("main")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := openStore(ctx, cfg.Store)
	cancel()
	if err != nil {
		return err
	}
	defer st.Close()
	logger.WithField("driver", cfg.Store.Driver).Info("store ready")

	opts := server.Options{
		MaxConns:       cfg.Server.MaxConns,
		MaxBodyLen:     cfg.Server.MaxFrameSize,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		ServiceName:    cfg.Etcd.ServiceName,
		AdvertiseAddr:  cfg.Server.AdvertiseAddr,
		RegistryTTL:    cfg.Etcd.TTL,
		Version:        version,
		Metrics:        server.NewMetrics(prometheus.DefaultRegisterer),
	}
	if cfg.Etcd.Enabled() {
		reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			return err
		}
		defer reg.Close()
		opts.Registry = reg
	}

	svc := service.NewContestService(st, nil, session.NewRegistry())
	svr := server.NewServer(svc, opts)

	var admin *http.Server
	if cfg.Server.AdminAddr != "" {
		admin = &http.Server{Addr: cfg.Server.AdminAddr, Handler: svr.AdminHandler()}
		go func() {
			logger.WithField("addr", admin.Addr).Info("admin endpoint listening")
			if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("admin endpoint failed")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svr.Serve("tcp", cfg.Server.Addr())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		// Serve failed before any shutdown was requested
		return err
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("shutdown requested")
	}

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if admin != nil {
		admin.Shutdown(ctx)
	}
	if err := svr.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("shutdown did not finish in time")
		return err
	}
	logger.Info("server exiting")
	return nil
}
