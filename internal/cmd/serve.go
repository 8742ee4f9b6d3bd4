package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	charmlog "github.com/charmbracelet/log/v2"
	"github.com/spf13/cobra"

	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/db"
	"github.com/emberworks/ember/internal/ledger"
	"github.com/emberworks/ember/internal/llm/agent"
	"github.com/emberworks/ember/internal/llm/tools"
	"github.com/emberworks/ember/internal/log"
	"github.com/emberworks/ember/internal/projectstore"
	"github.com/emberworks/ember/internal/server"
)

var serveHost string

// startingCredits seeds unknown users in the standalone ledger. In a real
// deployment balances come from the subscription service.
const startingCredits = 1000

func init() {
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", server.DefaultHost(), "Server host (TCP or Unix socket)")
	serveCmd.Flags().String("data-dir", "", "Data directory for the database and logs")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ember server",
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		cwd, err := resolveCwd(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.Load(cwd, configPath, debug)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}
		if dataDir != "" {
			cfg.Options.DataDirectory = dataDir
		}
		if cfg.Options.DataDirectory == "" {
			cfg.Options.DataDirectory = filepath.Join(cwd, ".ember")
		}
		if !cfg.IsConfigured() {
			return fmt.Errorf("no provider API keys configured; set OPENAI_API_KEY or ANTHROPIC_API_KEY")
		}

		logger := charmlog.New(os.Stderr)
		logger.SetReportTimestamp(true)
		slog.SetDefault(slog.New(logger))
		if debug {
			logger.SetLevel(charmlog.DebugLevel)
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
		if cfg.Options.LogFile != "" {
			log.Setup(cfg.Options.LogFile, debug)
		}

		conn, err := db.Connect(cmd.Context(), cfg.Options.DataDirectory)
		if err != nil {
			return fmt.Errorf("failed to open database: %v", err)
		}
		defer conn.Close()

		q := db.New(conn)
		files := projectstore.NewMemoryStore()
		credits := ledger.NewStore(q, func(modelID string) (catwalk.Model, bool) {
			_, m, ok := cfg.FindModel(modelID)
			return m, ok
		}, startingCredits)

		ag := agent.New(cfg, credits, files, q,
			agent.WithTools(tools.ProjectTools(files)),
		)

		hostURL, err := server.ParseHostURL(serveHost)
		if err != nil {
			return fmt.Errorf("invalid server host: %v", err)
		}

		srv := server.NewServer(cfg, ag, files, q, hostURL.Scheme, hostURL.Host)
		srv.SetLogger(slog.Default())
		slog.Info("Starting ember server...", "addr", serveHost)

		errch := make(chan error, 1)
		sigch := make(chan os.Signal, 1)
		sigs := []os.Signal{os.Interrupt}
		sigs = append(sigs, addSignals(sigs)...)
		signal.Notify(sigch, sigs...)

		go func() {
			errch <- srv.ListenAndServe()
		}()

		select {
		case <-sigch:
			slog.Info("Received interrupt signal...")
		case err = <-errch:
			if err != nil && !errors.Is(err, server.ErrServerClosed) {
				_ = srv.Close()
				slog.Error("Server error", "error", err)
				return fmt.Errorf("server error: %v", err)
			}
		}

		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		slog.Info("Shutting down...")

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown server", "error", err)
			return fmt.Errorf("failed to shutdown server: %v", err)
		}

		return nil
	},
}
