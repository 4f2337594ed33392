package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/pro-headshot/internal/boot"
	"github.com/fpang/pro-headshot/internal/config"
	"github.com/fpang/pro-headshot/internal/logging"
	"github.com/fpang/pro-headshot/internal/server"
	"github.com/fpang/pro-headshot/internal/session"
)

// sweepInterval is how often idle sessions are evicted.
const sweepInterval = 5 * time.Minute

// CLI flags
var (
	configFlag    string
	addrFlag      string
	modelFlag     string
	transportFlag string
	noMCPFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "headshot-web",
	Short: "HTTP API for turning portrait photos into professional headshots",
	Long: `Headshot Web starts a local server exposing the headshot workflow as a
JSON API under /api and as MCP tools under /mcp.

Examples:
  headshot-web
  headshot-web --addr :9090
  headshot-web --config headshot.yaml --transport sdk`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Path to a YAML config file (default: ./headshot.yaml if present)")
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address, overrides server.addr")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model, overrides gemini.model")
	rootCmd.Flags().StringVar(&transportFlag, "transport", "", "Gemini transport (rest|sdk), overrides gemini.transport")
	rootCmd.Flags().BoolVar(&noMCPFlag, "no-mcp", false, "Disable the /mcp endpoint")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	started := time.Now()
	logging.Init()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := boot.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	store := session.NewStore(svc.Adapter, cfg.Session.TTL)
	go store.RunSweeper(ctx, sweepInterval)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(server.Options{
			Store:        store,
			Catalog:      svc.Catalog,
			Preprocessor: svc.Preprocessor,
			Generator:    svc.Adapter,
			Archiver:     svc.Archiver,
			Model:        cfg.Gemini.Model,
			CORSOrigin:   cfg.Server.CORSOrigin,
			EnableMCP:    cfg.Server.MCP,
		}).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2*cfg.Gemini.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	boot.LogStartup("headshot-web", commitHash, cfg, started)
	fmt.Printf("\n  Headshot API: http://localhost:%s/api/health\n\n", listenPort(cfg.Server.Addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func applyFlags(cfg *config.Config) {
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}
	if modelFlag != "" {
		cfg.Gemini.Model = modelFlag
	}
	if transportFlag != "" {
		cfg.Gemini.Transport = transportFlag
	}
	if noMCPFlag {
		cfg.Server.MCP = false
	}
}

// listenPort returns the port part of a listen address.
func listenPort(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil {
		return port
	}
	return addr
}
