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

	"github.com/go-arcade/relay/pkg/http"
)

func (rt *Router) runRouter(r fiber.Router) {
	runs := r.Group("/runs")
	{
		runs.Get("/", rt.listRuns)             // GET /runs?limit=20 - recent runs, newest first
		runs.Get("/:id", rt.getRun)            // GET /runs/:id - one run
		runs.Post("/:id/cancel", rt.cancelRun) // POST /runs/:id/cancel - cancel an active run
	}
}

func (rt *Router) listRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	runs, err := rt.Orchestrator.List(c.UserContext(), limit)
	if err != nil {
		return replyErr(c, err)
	}
	return http.WithRepJSON(c, runs)
}

func (rt *Router) getRun(c *fiber.Ctx) error {
	run, err := rt.Orchestrator.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return replyErr(c, err)
	}
	return http.WithRepJSON(c, run)
}

func (rt *Router) cancelRun(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := rt.Orchestrator.Cancel(c.UserContext(), id); err != nil {
		return replyErr(c, err)
	}
	c.Status(fiber.StatusAccepted)
	return http.WithRepJSON(c, fiber.Map{"id": id, "cancelled": true})
}
