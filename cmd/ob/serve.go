package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsboard/internal/engine"
	"opsboard/internal/scheduler"
	"opsboard/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, webhooks and the month-end scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: legacyHeader,
					AllowDevLogin:          devLogin,
					Logger:                 e.Log,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("OPSBOARD_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}

				if d := server.NewWebhookDispatcher(e, e.Log); d != nil {
					go d.Run(ctx)
				}
				if e.Config.Scheduler.Enabled {
					runner, err := scheduler.New(e, e.Config.Scheduler.Cron, e.Log)
					if err != nil {
						return err
					}
					if e.Config.Scheduler.ApplyAhead {
						if _, _, err := runner.Tick(ctx); err != nil {
							e.Log.Error("startup month apply failed", "err", err)
						}
					}
					go runner.Run(ctx)
					e.Log.Info("scheduler started", "cron", runner.Spec, "next", runner.Next(time.Now()).Format(time.RFC3339))
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Opsboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				slog.Info("server stopped")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "enable-dev-login", false, "expose POST /auth/dev/login to mint tokens without credentials (local use only)")
	cmd.Flags().BoolVar(&legacyHeader, "allow-legacy-actor-header", false, "accept X-Actor-Id without a token (local use only)")
	return cmd
}
