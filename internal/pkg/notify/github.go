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

package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

// GitHubStatusChannel reports the run as a commit status, which branch
// protection can require before merging.
type GitHubStatusChannel struct {
	repository string
	context    string
	client     *resty.Client
}

func NewGitHubStatusChannel(apiURL, token, repository, statusContext string) (*GitHubStatusChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	if statusContext == "" {
		statusContext = "relay/pipeline"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetAuthToken(token).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetJSONMarshaler(sonic.Marshal)
	return &GitHubStatusChannel{repository: repository, context: statusContext, client: client}, nil
}

func (c *GitHubStatusChannel) Name() string { return "github" }

// CommitState maps a run status to a GitHub commit status state.
func CommitState(status string) string {
	switch status {
	case "succeeded":
		return "success"
	case "failed":
		return "failure"
	case "cancelled":
		return "error"
	default:
		return "pending"
	}
}

func (c *GitHubStatusChannel) Send(ctx context.Context, ev Event) error {
	repo := ev.Repository
	if repo == "" {
		repo = c.repository
	}
	if repo == "" || ev.Commit == "" {
		return fmt.Errorf("commit status needs a repository and a commit")
	}

	desc := "relay run " + ev.RunID + " " + ev.Status
	if ev.ErrorKind != "" {
		desc += ": " + ev.ErrorKind
	}
	if len(desc) > 140 {
		desc = desc[:140]
	}
	body := map[string]string{
		"state":       CommitState(ev.Status),
		"description": desc,
		"context":     c.context,
	}
	if ev.DetailsURL != "" {
		body["target_url"] = ev.DetailsURL
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/repos/" + repo + "/statuses/" + url.PathEscape(ev.Commit))
	if err != nil {
		return fmt.Errorf("github status: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("github status failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *GitHubStatusChannel) Close() error { return nil }
