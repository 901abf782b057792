package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/jeffusion/bungee/internal/bungeelog"
	"github.com/jeffusion/bungee/internal/gateway"
	"github.com/jeffusion/bungee/internal/gwconfig"
	"github.com/jeffusion/bungee/internal/plugin"
	"github.com/jeffusion/bungee/internal/transform"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load configuration and serve until terminated",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "bungee.yaml", "path to the gateway's YAML configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := gwconfig.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)

	gw := gateway.New(http.DefaultClient, plugin.NewRegistry(), transform.NewRegistry())
	if err := gw.Start(cfg); err != nil {
		return fmt.Errorf("serve: starting gateway: %w", err)
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: gw.Router()}
	go func() {
		bungeelog.Log().Info("gateway listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			bungeelog.Log().Error("server stopped unexpectedly", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	bungeelog.Log().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		bungeelog.Log().Warn("http server shutdown error", zap.Error(err))
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		bungeelog.Log().Warn("gateway shutdown error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		bungeelog.Log().Warn("tracer provider shutdown error", zap.Error(err))
	}
	_ = os.Stdout.Sync()
	return nil
}
