package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/datanova-ai/datanova-exchange/engine"
)

const version = `DataNova exchange v0.1 -- HEAD`

func serveCommand(e *engine.Engine) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the exchange as a standalone api server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.LoadConfig(); err != nil {
				return err
			}
			if err := e.Start(); err != nil {
				return err
			}
			defer func() {
				if err := e.Shutdown(); err != nil {
					logrus.WithError(err).Error("Shutdown failed")
				}
			}()

			server := echo.New()
			server.HideBanner = true
			server.Use(middleware.Logger())
			e.Routes(server)
			server.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

			cfg := e.Exchange().Config.HTTP
			addr := fmt.Sprintf("%s:%d", cfg.Interface, cfg.Port)
			errs := make(chan error, 1)
			go func() {
				errs <- server.Start(addr)
			}()
			logrus.WithField("addr", addr).Info(version + " serving")

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errs:
				if err != http.ErrServerClosed {
					return err
				}
			case sig := <-stop:
				logrus.WithField("signal", sig).Info("Shutting down")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		},
	}
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	exchangeEngine := engine.NewExchangeEngine()

	rootCommand := exchangeEngine.Cmd
	rootCommand.AddCommand(serveCommand(exchangeEngine), versionCommand)

	if err := rootCommand.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
