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
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/pkg/http"
)

var decision struct {
	by     string
	reason string
}

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending production promotion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], "approve")
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending production promotion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], "reject")
	},
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&decision.by, "by", "", "who takes the decision")
		c.Flags().StringVar(&decision.reason, "reason", "", "why")
		_ = c.MarkFlagRequired("by")
	}
}

// decide posts the decision to a running relay server.
func decide(cmd *cobra.Command, id, verb string) error {
	var (
		ok struct {
			Detail promote.ApprovalRequest `json:"detail"`
		}
		failed http.Response
	)
	req := resty.New().
		SetBaseURL(strings.TrimRight(server, "/")).
		SetTimeout(30 * time.Second).
		R().
		SetBody(map[string]string{"by": decision.by, "reason": decision.reason}).
		SetResult(&ok).
		SetError(&failed)
	if token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Post("/api/v1/approvals/" + id + "/" + verb)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: %s %v", verb, id, failed.Msg, failed.Detail)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s for %s: %s\n", ok.Detail.ID, ok.Detail.Status, ok.Detail.Environment, ok.Detail.Image)
	return nil
}
