package serve

import (
	"context"
	netHttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fulcrumhq/fulcrum/cmd/config"
	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/api/http"
	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/api/service"
	"github.com/fulcrumhq/fulcrum/internal/coordinator"
	"github.com/fulcrumhq/fulcrum/internal/extensions"
	"github.com/fulcrumhq/fulcrum/internal/kernel/t_api"
	"github.com/fulcrumhq/fulcrum/internal/lifecycle"
	"github.com/fulcrumhq/fulcrum/internal/metrics"
	"github.com/fulcrumhq/fulcrum/internal/pipeline"
	"github.com/fulcrumhq/fulcrum/internal/reaper"
	"github.com/fulcrumhq/fulcrum/internal/registry"
	"github.com/fulcrumhq/fulcrum/pkg/log"
	"github.com/fulcrumhq/fulcrum/pkg/operation"
)

func NewCmd(vip *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fulcrum server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if file, _ := cmd.Flags().GetString("config"); file != "" {
				vip.SetConfigFile(file)
			} else {
				vip.SetConfigName("fulcrum")
				vip.AddConfigPath(".")
				vip.AddConfigPath("$HOME")
			}

			vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
			vip.AutomaticEnv()

			if err := vip.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return err
				}
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(vip)
			if err != nil {
				return err
			}

			return Serve(cfg)
		},
	}

	config.SetDefaults(vip)

	cmd.Flags().StringP("config", "c", "", "config file (default fulcrum.yml)")
	cmd.Flags().String("log-level", "info", "can be one of: debug, info, warn, error")
	cmd.Flags().String("metrics-addr", ":9090", "prometheus metrics server address")
	cmd.Flags().String("http-addr", "0.0.0.0:8001", "http server address")
	cmd.Flags().String("store", "sqlite", "store type, can be one of: memory, sqlite, postgres")
	cmd.Flags().String("store-sqlite-path", "fulcrum.db", "sqlite database path")
	cmd.Flags().Bool("ignore-asserts", false, "ignore-asserts mode")

	_ = vip.BindPFlag("logLevel", cmd.Flags().Lookup("log-level"))
	_ = vip.BindPFlag("metricsAddr", cmd.Flags().Lookup("metrics-addr"))
	_ = vip.BindPFlag("api.http.addr", cmd.Flags().Lookup("http-addr"))
	_ = vip.BindPFlag("store.kind", cmd.Flags().Lookup("store"))
	_ = vip.BindPFlag("store.sqlite.path", cmd.Flags().Lookup("store-sqlite-path"))
	_ = viper.BindPFlag("ignore-asserts", cmd.Flags().Lookup("ignore-asserts"))

	return cmd
}

func Serve(cfg *config.Config) error {
	// logger
	if err := log.Init(os.Stdout, cfg.LogLevel); err != nil {
		slog.Error("failed to parse log level", "error", err)
		return err
	}

	// cursor signing
	t_api.SetCursorSecret(cfg.API.CursorSecret)

	// metrics
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// store
	s, err := cfg.Store.New()
	if err != nil {
		slog.Error("failed to instantiate store", "error", err)
		return err
	}
	if err := s.Start(); err != nil {
		slog.Error("failed to start store", "error", err)
		return err
	}

	// core components
	coord := coordinator.New(s, &cfg.Coordinator)
	lc := lifecycle.New(s, m, &cfg.Lifecycle)
	functions := registry.New()

	// pipeline and extensions
	p := pipeline.New(m)
	async := extensions.NewAsync(lc, functions, &cfg.Extensions.Async)

	for _, ext := range []pipeline.Extension{
		extensions.NewDeadline(),
		extensions.NewDeprecation(functions),
		extensions.NewIdempotency(s, coord, &cfg.Extensions.Idempotency),
		async,
		extensions.NewCancellation(lc),
		extensions.NewAtomicLock(coord),
	} {
		if err := p.Register(ext); err != nil {
			slog.Error("failed to register extension", "extension", ext.Name(), "error", err)
			return err
		}
	}

	invoker := pipeline.NewInvoker(p, functions)

	// builtin functions
	if err := functions.Register(&registry.Function{
		Name:    "echo",
		Version: "1",
		Handler: func(ctx context.Context, args []byte) (*operation.Value, error) {
			return &operation.Value{Data: args}, nil
		},
	}); err != nil {
		return err
	}

	// reaper
	rp, err := reaper.New(s, m, &cfg.Reaper)
	if err != nil {
		slog.Error("failed to instantiate reaper", "error", err)
		return err
	}

	// http api
	svc := service.New(invoker, lc, coord, m, "http")
	api, err := http.New(svc, &cfg.API.Http)
	if err != nil {
		slog.Error("failed to instantiate http api", "error", err)
		return err
	}

	errors := make(chan error, 2)
	go api.Start(errors)
	go rp.Start(errors)

	// metrics server
	mux := netHttp.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &netHttp.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		for {
			slog.Info("starting metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil {
				if err == netHttp.ErrServerClosed {
					return
				}

				slog.Error("error starting metrics server", "error", err)
			}

			time.Sleep(5 * time.Second)
		}
	}()

	// halt until we get a shutdown signal or an error occurs,
	// whichever happens first
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		slog.Info("shutdown signal received, shutting down", "signal", s)
	case err := <-errors:
		slog.Error("subsystem error received, shutting down", "error", err)
	}

	// stop accepting new calls, then wait for in-flight asynchronous
	// executions to commit
	if err := api.Stop(); err != nil {
		slog.Warn("error stopping http server", "error", err)
	}
	async.Drain()

	if err := rp.Stop(); err != nil {
		slog.Warn("error stopping reaper", "error", err)
	}

	if err := metricsServer.Close(); err != nil {
		slog.Warn("error stopping metrics server", "error", err)
	}

	if err := s.Stop(); err != nil {
		slog.Error("failed to stop store", "error", err)
		return err
	}

	return nil
}
