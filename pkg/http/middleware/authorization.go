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

package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/go-arcade/relay/pkg/http"
	"github.com/go-arcade/relay/pkg/log"
)

var errBadToken = errors.New("missing or invalid bearer token")

// AuthorizationMiddleware requires "Authorization: Bearer <token>". An empty
// token disables the check.
func AuthorizationMiddleware(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}

		parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" ||
			subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			log.Warnw("unauthorized request", "path", c.Path(), "ip", c.IP())
			return http.WithRepErr(c, fiber.StatusUnauthorized, http.Unauthorized, errBadToken)
		}
		return c.Next()
	}
}
