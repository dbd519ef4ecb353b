// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuillBooks Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillbooks/pluginhost/internal/config"
	"github.com/quillbooks/pluginhost/internal/hotreload"
	"github.com/quillbooks/pluginhost/internal/isolation"
	"github.com/quillbooks/pluginhost/internal/logging"
	"github.com/quillbooks/pluginhost/internal/observability"
	"github.com/quillbooks/pluginhost/internal/plugin"
	"github.com/quillbooks/pluginhost/internal/security"
	"github.com/quillbooks/pluginhost/internal/xdg"
	"github.com/quillbooks/pluginhost/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the plugin host",
		Long: `Start the plugin host process: discover bundles in the plugins
directory, verify signatures, resolve dependencies, load and enable
plugins, and serve metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	def := config.Default()
	flags := cmd.Flags()
	flags.String("plugins-dir", def.PluginsDir, "plugin bundle directory")
	flags.String("data-dir", def.DataDir, "per-plugin data directory base")
	flags.String("host-version", def.HostVersion, "host semantic version advertised to plugins")
	flags.Bool("security.require-signature", def.Security.RequireSignature, "reject unsigned bundles")
	flags.StringSlice("security.trusted-publishers", nil, "trusted signer subjects")
	flags.String("security.revocation-file", def.Security.RevocationFile, "certificate revocation list path")
	flags.Bool("reload.enabled", def.Reload.Enabled, "watch the plugins directory and hot reload changed bundles")
	flags.Duration("reload.debounce", def.Reload.Debounce, "hot reload debounce window")
	flags.StringSlice("isolation.host-api-prefixes", nil, "symbol prefixes resolved from the host API table")
	flags.String("log.level", def.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log.format", def.Log.Format, "log format (text or json)")
	flags.Bool("metrics.enabled", def.Metrics.Enabled, "serve Prometheus metrics and health probes")
	flags.String("metrics.addr", def.Metrics.Addr, "metrics/health HTTP address")

	return cmd
}

// runServe runs the host until a shutdown signal or fatal server error.
func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	logging.SetDefault("pluginhost", version, cfg.Log.Format, cfg.Log.Level)

	slog.Info("starting plugin host",
		"host_version", cfg.HostVersion,
		"plugins_dir", cfg.PluginsDir,
		"require_signature", cfg.Security.RequireSignature,
	)

	if err := xdg.EnsureDir(cfg.PluginsDir); err != nil {
		return fmt.Errorf("failed to create plugins directory: %w", err)
	}
	if cfg.DataDir != "" {
		if err := xdg.EnsureDir(cfg.DataDir); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	mgr, err := buildManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to build plugin manager: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := mgr.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize plugin manager: %w", err)
	}
	for _, warning := range mgr.Warnings() {
		slog.Warn("discovery warning", "warning", warning)
	}

	// Enable everything discovery managed to load.
	for _, c := range mgr.Registry().ByState(plugin.StateLoaded) {
		if err := mgr.EnablePlugin(ctx, c.ID()); err != nil {
			errutil.LogError(slog.Default(), "failed to enable plugin", err)
		}
	}

	// Start observability server if configured
	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		obsServer = observability.NewServer(cfg.Metrics.Addr, func() bool { return true })
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			return fmt.Errorf("failed to start observability server: %w", startErr)
		}
		// Monitor observability server errors - cancel context on error
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")

		metrics = obsServer.Metrics()
		for _, c := range mgr.Registry().All() {
			metrics.PluginsByState.WithLabelValues(c.State().String()).Inc()
		}
	}

	// Start the hot reload supervisor if enabled.
	var supervisor *hotreload.Supervisor
	if cfg.Reload.Enabled {
		opts := []hotreload.Option{hotreload.WithDebounce(cfg.Reload.Debounce)}
		if metrics != nil {
			opts = append(opts, hotreload.WithListener(func(n hotreload.Notification) {
				switch n.Phase {
				case hotreload.PhaseCompleted:
					metrics.ReloadsTotal.WithLabelValues("completed").Inc()
				case hotreload.PhaseFailed:
					metrics.ReloadsTotal.WithLabelValues("failed").Inc()
				}
			}))
		}
		supervisor = hotreload.New(cfg.PluginsDir, mgr, opts...)
		for _, c := range mgr.Registry().All() {
			supervisor.RegisterPlugin(c.ID(), c.BundlePath())
		}
		if err := supervisor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start hot reload supervisor: %w", err)
		}
		slog.Info("hot reload enabled", "debounce", cfg.Reload.Debounce)
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Plugin host started")
	slog.Info("plugin host ready",
		"plugins", mgr.Registry().Len(),
		"enabled", len(mgr.Registry().ByState(plugin.StateEnabled)),
	)

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	if supervisor != nil {
		supervisor.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error shutting down plugin manager", "error", err)
	}

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// buildManager assembles the plugin manager from configuration.
func buildManager(cfg *config.Config) (*plugin.Manager, error) {
	revocations := security.NewRevocationList()
	if cfg.Security.RevocationFile != "" {
		loaded, err := security.LoadRevocationList(cfg.Security.RevocationFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load revocation list: %w", err)
		}
		revocations = loaded
		slog.Info("revocation list loaded",
			"path", cfg.Security.RevocationFile,
			"entries", revocations.Len(),
			"version", revocations.Version(),
		)
	}

	verifier := security.NewVerifier(cfg.Security.TrustedPublishers, revocations)
	loader := isolation.NewLoader(
		isolation.NewPolicy(cfg.Isolation.HostAPIPrefixes...),
		isolation.NewSymbolTable(),
	)

	opts := []plugin.ManagerOption{
		plugin.WithVerifier(verifier),
		plugin.WithRequireSignature(cfg.Security.RequireSignature),
		plugin.WithLoader(loader),
	}
	if cfg.DataDir != "" {
		opts = append(opts, plugin.WithDataDir(cfg.DataDir))
	}

	return plugin.NewManager(cfg.HostVersion, cfg.PluginsDir, opts...)
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
