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
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, cfg, err := loadConf()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		defer stop()

		a, cleanup, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		loader.Watch(a.Reload)
		log.Infow("relay started", "version", version.GetVersion().Version, "environments", cfg.EnvironmentNames())
		return a.Serve(ctx)
	},
}
