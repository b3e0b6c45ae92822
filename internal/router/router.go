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
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/go-arcade/relay/internal/conf"
	"github.com/go-arcade/relay/internal/pkg/pipeline"
	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/pkg/http"
	"github.com/go-arcade/relay/pkg/http/middleware"
	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/metrics"
	"github.com/go-arcade/relay/pkg/version"
)

type Router struct {
	Http         *http.Http
	MetricsConf  conf.MetricsConf
	Orchestrator *pipeline.Orchestrator
	Approvals    *promote.ApprovalManager
	Metrics      *metrics.Metrics
}

func NewRouter(
	httpConf *http.Http,
	metricsConf conf.MetricsConf,
	orch *pipeline.Orchestrator,
	approvals *promote.ApprovalManager,
	m *metrics.Metrics,
) *Router {
	return &Router{
		Http:         httpConf,
		MetricsConf:  metricsConf,
		Orchestrator: orch,
		Approvals:    approvals,
		Metrics:      m,
	}
}

func (rt *Router) Router() *fiber.App {
	app := fiber.New(rt.Http.FiberConfig("relay"))

	app.Use(
		fiberrecover.New(),
		middleware.RequestMiddleware(),
		cors.New(),
		middleware.TraceMiddleware(),
	)
	if rt.Http.AccessLog {
		app.Use(http.AccessLogFormat(log.GetLogger()))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/version", func(c *fiber.Ctx) error {
		return c.JSON(version.GetVersion())
	})
	if rt.MetricsConf.Enabled && rt.Metrics != nil {
		app.Get(rt.MetricsConf.Path, adaptor.HTTPHandler(rt.Metrics.Handler()))
	}

	api := app.Group("/api/v1", middleware.AuthorizationMiddleware(rt.Http.Token))
	rt.eventRouter(api)
	rt.runRouter(api)
	rt.approvalRouter(api)

	app.Use(func(c *fiber.Ctx) error {
		return http.WithRepErr(c, fiber.StatusNotFound, http.NotFound, errors.New("request path not found: "+c.Path()))
	})
	return app
}

var errMissingApprover = errors.New("by is required")

// replyErr maps domain errors onto HTTP statuses.
func replyErr(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrTriggerInvalid):
		return http.WithRepErr(c, fiber.StatusBadRequest, http.TriggerNotSupported, err)
	case errors.Is(err, pipeline.ErrRunNotFound):
		return http.WithRepErr(c, fiber.StatusNotFound, http.RunNotFound, err)
	case errors.Is(err, pipeline.ErrRunFinished):
		return http.WithRepErr(c, fiber.StatusConflict, http.RunAlreadyFinished, err)
	case errors.Is(err, promote.ErrApprovalNotFound):
		return http.WithRepErr(c, fiber.StatusNotFound, http.ApprovalNotFound, err)
	case errors.Is(err, promote.ErrApprovalNotPending):
		return http.WithRepErr(c, fiber.StatusConflict, http.ApprovalNotPending, err)
	case errors.Is(err, pipeline.ErrOrchestratorDown):
		return http.WithRepErr(c, fiber.StatusServiceUnavailable, http.InternalError, err)
	default:
		log.Errorw("request failed", "path", c.Path(), "error", err)
		return http.WithRepErr(c, fiber.StatusInternalServerError, http.InternalError, err)
	}
}
