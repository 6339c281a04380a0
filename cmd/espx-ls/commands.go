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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/voidKandy/espx-ls-sub001/services/espx/config"
)

// --- Global Command Variables ---
var (
	configPath string
	rootDir    string
	logLevel   string
	showFormat string

	rootCmd = &cobra.Command{
		Use:   "espx-ls",
		Short: "Language server that runs prompts written in comments",
		Long: `espx-ls watches your buffers for marked comments such as
"// @_ explain this" and answers them with a model, streaming the reply
into the editor. Running it without a subcommand serves LSP on stdio.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve LSP over stdin/stdout",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "espx-ls", version)
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file (default ./espx-ls.toml)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE:  runConfigShow,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search the workspace root, then $XDG_CONFIG_HOME/espx-ls)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "workspace root used for the config search before initialize (default: working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	// Editors commonly pass --stdio; stdio is the only transport.
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().Bool("stdio", true, "serve over stdin/stdout")
		_ = c.Flags().MarkHidden("stdio")
	}

	configShowCmd.Flags().StringVar(&showFormat, "format", string(config.FormatTOML), "output format (toml, yaml)")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(serveCmd, versionCmd, configCmd)
}

// loadConfig reads --config, or searches from --root.
func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		root := rootDir
		if root == "" {
			root, _ = os.Getwd()
		}
		cfg, err = config.Load(root)
	}
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.FileNames[0]
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := config.WriteDefault(abs); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "wrote", abs)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Model.APIKey != "" {
		cfg.Model.APIKey = "********"
	}
	data, err := config.Encode(cfg, config.Format(showFormat))
	if err != nil {
		return err
	}
	if cfg.Source != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n", cfg.Source)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
