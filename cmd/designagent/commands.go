// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/DesignAgent/pkg/logging"
	"github.com/AleutianAI/DesignAgent/services/designer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	configPath string
	portFlag   int

	rootCmd = &cobra.Command{
		Use:           "designagent",
		Short:         "Interior design agent service",
		Long:          `designagent turns a photo of an empty room into a furnished design plan with a shopping list.`,
		SilenceUsage:  true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "designagent", version)
		},
	}
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "designagent.yaml", "path to the YAML config file")
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "HTTP port (overrides config and DESIGNER_PORT)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := designer.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopWatch, err := watchConfig(configPath, func(next designer.Config) {
		applyReload(logger, next)
	})
	if err != nil {
		slog.Warn("Config hot reload disabled", "path", configPath, "error", err)
	} else {
		defer stopWatch()
	}

	slog.Info("Starting design agent",
		"version", version,
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"uploads", cfg.Uploads.Backend,
		"vision", cfg.Providers.Vision)

	svc, err := designer.New(ctx, cfg, designer.Options{Version: version, Logger: logger.Slog()})
	if err != nil {
		return fmt.Errorf("failed to create design agent: %w", err)
	}
	return svc.Run(ctx)
}

func newLogger(cfg designer.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "designagent",
		Format:  logging.Format(cfg.Logging.Format),
	})
}

// applyReload applies the settings that can change without a restart.
func applyReload(logger *logging.Logger, next designer.Config) {
	level, err := logging.ParseLevel(next.Logging.Level)
	if err != nil {
		slog.Warn("Ignoring reloaded log level", "error", err)
		return
	}
	if level != logger.Level() {
		logger.SetLevel(level)
		slog.Info("Log level changed", "level", level.String())
	}
}

// runWithContext executes the root command; tests use it.
func runWithContext(ctx context.Context, args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
