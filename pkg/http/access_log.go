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

package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AccessLogFormat logs one line per request, skipping probes and scrapes.
func AccessLogFormat(log *zap.SugaredLogger) fiber.Handler {
	excludedPaths := map[string]bool{
		"/health":  true,
		"/metrics": true,
	}

	return func(c *fiber.Ctx) error {
		if excludedPaths[c.Path()] {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		query := c.Context().QueryArgs().String()
		if query != "" {
			query = "?" + query
		}
		log.Infow("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"query", query,
			"status", c.Response().StatusCode(),
			"ip", c.IP(),
			"request_id", c.Locals("request_id"),
			"user_agent", c.Get("User-Agent"),
			"latency", latency.String(),
		)
		return err
	}
}
