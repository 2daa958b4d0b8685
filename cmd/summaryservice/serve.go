package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/localrivet/summaryservice"
	"github.com/localrivet/summaryservice/internal/errortypes"
)

var warm bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the summarization tools over MCP stdio",
	Long: `Serve the summarization tools to an MCP client over stdin/stdout.

Logs are written to stderr so the protocol stream stays clean.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&warm, "warm", false, "load the default model before accepting requests")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := summaryservice.NewServer(summaryservice.ServerOptions{Config: cfg, Logger: log})
	if err != nil {
		errortypes.LogError(log, err)
		return err
	}

	if warm {
		if err := srv.Warm(cmd.Context()); err != nil {
			// A fatal warm-up failure means the default model is unusable.
			errortypes.LogError(log, err)
			if errortypes.IsFatal(err) {
				srv.Stop()
				return err
			}
		}
	}

	setupSignalHandler(srv, log)

	log.Info("Starting MCP server...")
	if err := srv.Start(); err != nil {
		err = errortypes.ExternalError(err, "MCP server failed")
		errortypes.LogError(log, err)
		srv.Stop()
		return err
	}
	return srv.Stop()
}

// setupSignalHandler stops the server on SIGINT or SIGTERM.
func setupSignalHandler(srv *summaryservice.Server, log *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("Received shutdown signal, terminating gracefully...")
		if err := srv.Stop(); err != nil {
			errortypes.LogError(log, err)
			os.Exit(1)
		}
		log.Info("Shutdown complete")
		os.Exit(0)
	}()
}
