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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-arcade/relay/internal/app"
	"github.com/go-arcade/relay/internal/pkg/gate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and the pipeline definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConf()
		if err != nil {
			return err
		}
		def, err := app.ProvideDefinition(cfg)
		if err != nil {
			return err
		}
		gates, err := gate.NewEvaluator(cfg.Gates)
		if err != nil {
			return err
		}
		if err := def.Validate(gates.Compile); err != nil {
			return err
		}
		if err := gates.Bind(def.Categories()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s: %d stages, environments %v\n", def.Name, len(def.Stages), cfg.EnvironmentNames())
		return nil
	},
}
