// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// mobilebench validates Android benchmark task instances: it replays
// each instance's test and solution patches inside a persistent build
// container and reports which tests the solution fixes or breaks.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds file-based defaults. Flags override anything set here.
type Config struct {
	OutputDir     string `yaml:"output_dir"`
	DockerContext string `yaml:"docker_context"`
	Workers       int    `yaml:"workers"`
	StubModel     string `yaml:"stub_model"`
	LogLevel      string `yaml:"log_level"`
}

var config Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		configPath := "mobilebench.yaml"
		yamlFile, err := os.ReadFile(configPath)
		if err != nil {
			// Config file is optional; flags and defaults cover everything.
			return
		}
		if err := yaml.Unmarshal(yamlFile, &config); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
	}
}
