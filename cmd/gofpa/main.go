package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/gofpa/internal/config"
	"github.com/joshp123/gofpa/internal/core"
	"github.com/joshp123/gofpa/internal/logging"
	"github.com/joshp123/gofpa/internal/plugins"
	"github.com/joshp123/gofpa/internal/router"
	"github.com/joshp123/gofpa/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", envOrDefault("GOFPA_CONFIG", config.DefaultPath), "path to config.yaml")
	pflag.Parse()

	log := logging.WithComponent("gofpa")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	if err := logging.Init(cfg.Log); err != nil {
		log.Fatal().Err(err).Msg("init logging")
	}
	log = logging.WithComponent("gofpa")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	active := plugins.Compiled(ctx, cfg)
	if err := core.ValidatePlugins(active); err != nil {
		log.Fatal().Err(err).Msg("invalid plugins")
	}
	for _, p := range active {
		log.Info().Str("plugin", p.ID()).Str("status", string(p.Health())).Str("health", p.HealthMessage()).Msg("plugin loaded")
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("grpc listen")
	}
	router.RegisterPlugins(grpcServer.Server, grpcServer.Health, active)

	metricsRegistry := core.MetricsRegistry(active, core.RuntimeCollectors()...)
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gofpa_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	httpMux := server.NewMux(core.NewRegistry(active), server.MetricsHandler(metricsRegistry))
	router.RegisterHTTP(httpMux, active)
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, httpMux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Core.HTTPAddr).Msg("http listening")
		return httpServer.ListenAndServe()
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Core.GRPCAddr).Msg("grpc listening")
		return grpcServer.Serve()
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		errs = append(errs, httpServer.Shutdown(shutdownCtx))
		grpcServer.Stop(shutdownCtx)
		for _, p := range active {
			if closer, ok := p.(core.Closer); ok {
				errs = append(errs, closer.Close())
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
