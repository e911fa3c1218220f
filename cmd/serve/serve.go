// Package serve implements the long-running server mode: HTTP API, status
// dashboard, MCP endpoint, optional periodic rescan and MQTT import listener.
package serve

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/paularlott/cli"

	"github.com/ElZetto/espisy/internal/api"
	"github.com/ElZetto/espisy/internal/config"
	"github.com/ElZetto/espisy/internal/history"
	"github.com/ElZetto/espisy/internal/log"
	"github.com/ElZetto/espisy/internal/mcp"
	"github.com/ElZetto/espisy/internal/mqtt"
	"github.com/ElZetto/espisy/internal/registry"
	"github.com/ElZetto/espisy/internal/scanner"
	"github.com/ElZetto/espisy/internal/settings"
	"github.com/ElZetto/espisy/internal/transport"
	"github.com/ElZetto/espisy/internal/ui"
	"github.com/ElZetto/espisy/internal/worker"
)

// ServerDeps holds the wired collaborators for the HTTP server.
type ServerDeps struct {
	Config    *config.Config
	Settings  *settings.Store
	Registry  *registry.Registry
	Scanner   *scanner.Engine
	MCPServer *mcp.Server
	API       *api.Handler
}

// RunServer starts the espisy server with the given configuration
func RunServer(deps *ServerDeps) error {
	mux := http.NewServeMux()

	// API routes
	deps.API.RegisterRoutes(mux)

	// MCP endpoint
	mux.HandleFunc("/mcp", deps.MCPServer.GetHTTPHandler())

	// Status dashboard at root (handles all / and /assets/* requests)
	mux.Handle("/", ui.AssetHandler())

	// Apply middleware
	var handler http.Handler = mux
	if deps.Config.IsAPIAuthEnabled() {
		handler = api.AuthMiddleware(deps.Config.TokenHash, handler)
	}
	handler = api.SecurityHeadersMiddleware(handler)

	server := &http.Server{
		Addr:    deps.Config.ListenAddr,
		Handler: handler,
	}

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down server...")
		server.Close()
	}()

	log.Info("Starting espisy server", "addr", deps.Config.ListenAddr)
	log.Info("Dashboard available", "url", "http://localhost"+deps.Config.ListenAddr)
	log.Info("API available", "url", "http://localhost"+deps.Config.ListenAddr+"/api/")
	log.Info("MCP available", "url", "http://localhost"+deps.Config.ListenAddr+"/mcp")
	if deps.Config.IsAPIAuthEnabled() {
		log.Info("API authentication enabled")
	}
	deps.MCPServer.LogStartup()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server error", "error", err)
		return err
	}

	log.Info("Server stopped")
	return nil
}

// warmRegistry re-probes the devices persisted in the settings file so the
// registry comes up populated. Runs in the background; unreachable units
// simply stay absent until the next scan.
func warmRegistry(eng *scanner.Engine, sets *settings.Store) {
	entries := sets.Devices()
	if len(entries) == 0 {
		return
	}
	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		addrs = append(addrs, e.Address)
	}
	go func() {
		report := eng.ScanAddresses(context.Background(), addrs)
		log.Info("startup device probe finished", "known", len(addrs), "found", report.Found)
	}()
}

func Command() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Start the espisy server",
		Description: "Start the HTTP server with the device API, status dashboard, and MCP endpoint",
		Flags:       config.GetFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.FromCommand(cmd)

			sets, err := settings.Open(cfg.SettingsPath)
			if err != nil {
				log.Error("Failed to load settings", "error", err)
				return err
			}
			if cfg.Network != "" {
				sets.SetNetwork(cfg.Network)
			}
			log.Info("Settings loaded", "path", sets.Path(), "devices", len(sets.Devices()))

			hist, err := history.Open(cfg.DataDir)
			if err != nil {
				log.Error("Failed to open scan history", "error", err)
				return err
			}
			defer hist.Close()
			log.Info("Scan history initialized", "path", hist.Path())

			reg := registry.New()
			client := transport.NewClient(cfg.ProbeTimeout)

			eng := scanner.New(reg, client, sets, hist)
			eng.SetMaxConcurrent(cfg.Concurrency)
			eng.SetProbeTimeout(cfg.ProbeTimeout)

			warmRegistry(eng, sets)

			// MQTT import listener; a dead broker disables the buffer but
			// never blocks serving.
			var imports *mqtt.Buffer
			if cfg.MQTTBroker != "" {
				listener, err := mqtt.Connect(mqtt.Options{
					BrokerURL: cfg.MQTTBroker,
					Username:  cfg.MQTTUsername,
					Password:  cfg.MQTTPassword,
					Topics:    cfg.MQTTTopics,
				})
				if err != nil {
					log.Warn("MQTT import listener disabled", "error", err)
				} else {
					defer listener.Close()
					imports = listener.Buffer()
				}
			}

			if cfg.RescanSpec != "" {
				rescanner := worker.NewRescanner(eng, sets, cfg.Network)
				if err := rescanner.Start(cfg.RescanSpec); err != nil {
					log.Error("Failed to schedule rescan", "error", err)
					return err
				}
				defer rescanner.Stop()
			}

			apiHandler := api.NewHandler(api.Deps{
				Registry:  reg,
				Transport: client,
				Scanner:   eng,
				Settings:  sets,
				History:   hist,
				Imports:   imports,
			})

			mcpServer := mcp.NewServer(mcp.Deps{
				Registry:  reg,
				Transport: client,
				Scanner:   eng,
				Settings:  sets,
			}, cfg.TokenHash)

			return RunServer(&ServerDeps{
				Config:    cfg,
				Settings:  sets,
				Registry:  reg,
				Scanner:   eng,
				MCPServer: mcpServer,
				API:       apiHandler,
			})
		},
	}
}
