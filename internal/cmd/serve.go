package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techs-targe/PromptRig-sub001/internal/server"
	"github.com/techs-targe/PromptRig-sub001/internal/trigger"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, worker pool, and scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.WarnIfInsecure()
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	var scheduler *trigger.Scheduler
	if cfg.CronSpec != "" {
		scheduler = trigger.NewScheduler(rt.runner)
		if err := scheduler.Register(trigger.Schedule{
			Cron:          cfg.CronSpec,
			Text:          cfg.CronText,
			SessionID:     cfg.CronSessionID,
			Model:         cfg.DefaultModel,
			Temperature:   cfg.Temperature,
			MaxIterations: rt.settings.MaxIterations,
		}); err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Info().Str("cron", cfg.CronSpec).Msg("scheduler_started")
	}

	srv := server.NewServer(rt.runner, rt.st,
		server.WithAuth(cfg.APIToken),
		server.WithRateLimit(cfg.RateLimitRPS, cfg.RateBurst),
		server.WithModelDefaults(cfg.DefaultModel, cfg.Temperature),
	)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server_listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting_down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		log.Warn().Err(err).Msg("server_shutdown_failed")
	}
	return nil
}
