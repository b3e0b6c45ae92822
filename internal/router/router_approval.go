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

	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/pkg/http"
)

func (rt *Router) approvalRouter(r fiber.Router) {
	approvals := r.Group("/approvals")
	{
		approvals.Get("/", rt.listApprovals)             // GET /approvals?status=pending
		approvals.Get("/:id", rt.getApproval)            // GET /approvals/:id
		approvals.Post("/:id/approve", rt.approve)       // POST /approvals/:id/approve
		approvals.Post("/:id/reject", rt.rejectApproval) // POST /approvals/:id/reject
	}
}

// decision is the body of approve and reject calls.
type decision struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

func (rt *Router) listApprovals(c *fiber.Ctx) error {
	return http.WithRepJSON(c, rt.Approvals.List(promote.ApprovalStatus(c.Query("status"))))
}

func (rt *Router) getApproval(c *fiber.Ctx) error {
	req, err := rt.Approvals.Get(c.Params("id"))
	if err != nil {
		return replyErr(c, err)
	}
	return http.WithRepJSON(c, req)
}

func (rt *Router) approve(c *fiber.Ctx) error {
	return rt.decide(c, rt.Approvals.Approve)
}

func (rt *Router) rejectApproval(c *fiber.Ctx) error {
	return rt.decide(c, rt.Approvals.Reject)
}

func (rt *Router) decide(c *fiber.Ctx, fn func(id, by, reason string) error) error {
	var d decision
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&d); err != nil {
			return http.WithRepErr(c, fiber.StatusBadRequest, http.RequestParameterParsingFailed, err)
		}
	}
	if d.By == "" {
		return http.WithRepErr(c, fiber.StatusBadRequest, http.BadRequest, errMissingApprover)
	}
	id := c.Params("id")
	if err := fn(id, d.By, d.Reason); err != nil {
		return replyErr(c, err)
	}
	req, err := rt.Approvals.Get(id)
	if err != nil {
		return replyErr(c, err)
	}
	return http.WithRepJSON(c, req)
}
