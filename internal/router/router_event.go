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

package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/go-arcade/relay/internal/pkg/pipeline"
	"github.com/go-arcade/relay/pkg/http"
)

func (rt *Router) eventRouter(r fiber.Router) {
	r.Post("/events/pull_request", rt.pullRequest) // POST /events/pull_request - relay or GitHub pull request event
	r.Post("/dispatch", rt.dispatch)               // POST /dispatch - promote an existing artifact
}

// pullRequestEvent is relay's own pull request payload.
type pullRequestEvent struct {
	Action       string `json:"action"`
	Repository   string `json:"repository"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	Commit       string `json:"commit"`
	Author       string `json:"author"`
}

// githubPullRequest is the subset of GitHub's pull_request webhook we read.
type githubPullRequest struct {
	Action      string `json:"action"`
	PullRequest struct {
		Merged bool `json:"merged"`
		Head   struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		MergeCommitSHA string `json:"merge_commit_sha"`
		User           struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (e githubPullRequest) trigger() pipeline.Trigger {
	pr := e.PullRequest
	t := pipeline.Trigger{
		Kind:         pipeline.TriggerPullRequest,
		Action:       e.Action,
		Repository:   e.Repository.FullName,
		SourceBranch: pr.Head.Ref,
		TargetBranch: pr.Base.Ref,
		Commit:       pr.Head.SHA,
		Author:       pr.User.Login,
	}
	switch {
	case e.Action == "closed" && pr.Merged:
		t.Action = pipeline.ActionMerged
		if pr.MergeCommitSHA != "" {
			t.Commit = pr.MergeCommitSHA
		}
	case e.Action == "reopened" || e.Action == "synchronize":
		t.Action = pipeline.ActionOpened
	}
	return t
}

func (rt *Router) pullRequest(c *fiber.Ctx) error {
	var t pipeline.Trigger
	switch c.Get("X-GitHub-Event") {
	case "":
		var ev pullRequestEvent
		if err := c.BodyParser(&ev); err != nil {
			return http.WithRepErr(c, fiber.StatusBadRequest, http.RequestParameterParsingFailed, err)
		}
		t = pipeline.Trigger{
			Kind:         pipeline.TriggerPullRequest,
			Action:       ev.Action,
			Repository:   ev.Repository,
			SourceBranch: ev.SourceBranch,
			TargetBranch: ev.TargetBranch,
			Commit:       ev.Commit,
			Author:       ev.Author,
		}
	case "pull_request":
		var ev githubPullRequest
		if err := c.BodyParser(&ev); err != nil {
			return http.WithRepErr(c, fiber.StatusBadRequest, http.RequestParameterParsingFailed, err)
		}
		t = ev.trigger()
	case "ping":
		return http.WithRepJSON(c, "pong")
	default:
		return http.WithRepErr(c, fiber.StatusBadRequest, http.TriggerNotSupported, nil)
	}
	return rt.submit(c, t)
}

type dispatchRequest struct {
	pipeline.DispatchInput
	Repository string `json:"repository"`
	Author     string `json:"author"`
}

func (rt *Router) dispatch(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return http.WithRepErr(c, fiber.StatusBadRequest, http.RequestParameterParsingFailed, err)
	}
	in := req.DispatchInput
	return rt.submit(c, pipeline.Trigger{
		Kind:       pipeline.TriggerDispatch,
		Repository: req.Repository,
		Author:     req.Author,
		Dispatch:   &in,
	})
}

func (rt *Router) submit(c *fiber.Ctx, t pipeline.Trigger) error {
	run, err := rt.Orchestrator.Submit(c.UserContext(), t)
	if err != nil {
		return replyErr(c, err)
	}
	c.Status(fiber.StatusAccepted)
	return http.WithRepJSON(c, run)
}
