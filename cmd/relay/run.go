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
	"fmt"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/go-arcade/relay/internal/pkg/pipeline"
)

var (
	pr struct {
		action     string
		repository string
		source     string
		target     string
		commit     string
		author     string
	}
	dispatch struct {
		repository string
		author     string
		in         pipeline.DispatchInput
	}
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once for a pull request event",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd, pipeline.Trigger{
			Kind:         pipeline.TriggerPullRequest,
			Action:       pr.action,
			Repository:   pr.repository,
			SourceBranch: pr.source,
			TargetBranch: pr.target,
			Commit:       pr.commit,
			Author:       pr.author,
		})
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Promote an existing image from one environment to another",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := dispatch.in
		return runOnce(cmd, pipeline.Trigger{
			Kind:       pipeline.TriggerDispatch,
			Repository: dispatch.repository,
			Author:     dispatch.author,
			Dispatch:   &in,
		})
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&pr.action, "action", pipeline.ActionMerged, "pull request action: opened or merged")
	f.StringVar(&pr.repository, "repository", "", "repository, owner/name")
	f.StringVar(&pr.source, "source", "", "source branch")
	f.StringVar(&pr.target, "target", "", "target branch")
	f.StringVar(&pr.commit, "commit", "", "commit SHA")
	f.StringVar(&pr.author, "author", "", "event author")
	_ = runCmd.MarkFlagRequired("target")
	_ = runCmd.MarkFlagRequired("commit")

	f = dispatchCmd.Flags()
	f.StringVar(&dispatch.in.ImageTag, "image-tag", "", "tag in the source environment's registry")
	f.StringVar(&dispatch.in.PromoteFrom, "from", "", "source environment")
	f.StringVar(&dispatch.in.PromoteTo, "to", "", "target environment")
	f.StringVar(&dispatch.in.Version, "version", "", "release version, required for prod unless the tag is one")
	f.StringVar(&dispatch.repository, "repository", "", "repository, owner/name")
	f.StringVar(&dispatch.author, "author", "", "who requested the promotion")
	_ = dispatchCmd.MarkFlagRequired("image-tag")
	_ = dispatchCmd.MarkFlagRequired("from")
	_ = dispatchCmd.MarkFlagRequired("to")
}

// runOnce executes t in process and prints the finished run. The error is
// errRunFailed when the run did not succeed.
func runOnce(cmd *cobra.Command, t pipeline.Trigger) error {
	_, cfg, err := loadConf()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := initApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := a.RunOnce(ctx, t)
	if err != nil {
		return err
	}
	out, err := sonic.ConfigStd.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if !run.Succeeded() {
		return errRunFailed
	}
	return nil
}
