package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/api"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the batch scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		scheduler := api.NewBatchScheduler(a.store, a.processor, a.log)
		scheduler.CheckInterval = a.cfg.Scheduler.Interval
		scheduler.Enabled = a.cfg.Scheduler.Enabled

		handler := api.NewHandler(a.store, scheduler, a.log)
		handler.Location = a.location()
		handler.WalletCategory = a.cfg.Engine.BonusWalletCategory

		router := api.NewRouter(handler, api.RouterOptions{
			CORSOrigins: a.cfg.Server.CORSOrigins,
			Metrics:     a.metrics.Handler(),
		})

		server := &http.Server{
			Addr:         ":" + a.cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		scheduler.Start()

		errCh := make(chan error, 1)
		go func() {
			a.log.Info("server starting",
				zap.String("addr", server.Addr),
				zap.String("timezone", a.cfg.Engine.Timezone))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			scheduler.Stop()
			return err
		}

		a.log.Info("shutting down server")
		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return err
		}

		a.log.Info("server stopped")
		return nil
	},
}
