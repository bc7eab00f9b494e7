package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"agentcore/internal/config"
	"agentcore/internal/server"
	"agentcore/pkg/logger"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent registry, runners, channels, and system-AI coordinator",
		Long: `Start the orchestration core for one project: the agent registry and
its per-agent inbox runners, the IBL tool/system/project dispatcher,
every configured ingress channel (gmail, nostr, gui), and, unless
disabled, the cross-project system-AI coordinator.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (default from gateway.host:gateway.port)")
	return cmd
}

func runServe(flags *globalFlags, metricsAddr string) error {
	srv, err := server.New(server.Config{
		ProjectID:  flags.projectID,
		ConfigPath: flags.configPath,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info().Msg("agentcored started")

	if metricsAddr == "" {
		cfg := config.GetConfig()
		host, port := "localhost", 18788
		if cfg != nil {
			if cfg.Gateway.Host != "" {
				host = cfg.Gateway.Host
			}
			if cfg.Gateway.Port != 0 {
				port = cfg.Gateway.Port
			}
		}
		metricsAddr = net.JoinHostPort(host, fmt.Sprintf("%d", port))
	}

	metricsServer := &http.Server{Addr: metricsAddr, Handler: srv.MetricsHandler()}
	metricsErrCh := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			metricsErrCh <- err
		}
	}()
	logger.Info().Str("address", metricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down agentcored")
	case err := <-srv.ErrorChan():
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	case err := <-metricsErrCh:
		logger.Error().Err(err).Msg("metrics server error")
	}

	_ = metricsServer.Close()
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	logger.Info().Msg("agentcored stopped")
	return nil
}
