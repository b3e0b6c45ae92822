// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-arcade/relay/internal/conf"
	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/version"
)

var (
	configFile string
	server     string
	token      string
)

// errRunFailed makes the process exit non-zero without printing twice.
var errRunFailed = errors.New("pipeline run did not succeed")

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "relay promotes container images through delivery environments",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "conf", "c", "conf.d/relay.toml", "config file path")
	rootCmd.PersistentFlags().StringVar(&server, "server", envOr("RELAY_SERVER", "http://127.0.0.1:8080"), "relay API address for client commands")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("RELAY_TOKEN"), "API bearer token for client commands")

	rootCmd.AddCommand(
		serveCmd,
		runCmd,
		dispatchCmd,
		approveCmd,
		rejectCmd,
		validateCmd,
		version.VersionCmd,
	)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadConf reads the config file and installs the configured logger.
func loadConf() (*conf.Loader, *conf.AppConfig, error) {
	loader := conf.NewLoader(configFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := log.Init(&cfg.Log); err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
