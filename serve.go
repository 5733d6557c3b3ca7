package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mahirjain10/image-variants/internal/api"
	"github.com/mahirjain10/image-variants/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the optimize and variants HTTP endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newAppFromCmd(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		addr := app.config.HTTPAddr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		if removed, err := utils.RemoveStaleScratch(cmd.Context(), app.config.ScratchDir, time.Hour, time.Now()); err != nil {
			app.log.Warn("scratch sweep failed", zap.Error(err))
		} else if len(removed) > 0 {
			app.log.Info("removed stale scratch dirs", zap.Strings("dirs", removed))
		}

		router := api.NewRouter(api.NewHandler(app.pipeline, app.variants, app.config, app.log))
		srv := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			app.log.Info("starting server", zap.String("addr", addr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-cmd.Context().Done():
		}

		app.log.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to bind the webserver (default HTTP_ADDR)")
}
