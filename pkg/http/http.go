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
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/go-arcade/relay/pkg/log"
)

// Http configures the API server. Timeouts are in seconds.
type Http struct {
	Host            string
	Port            int
	AccessLog       bool
	ExposeMetrics   bool
	ReadTimeout     int
	WriteTimeout    int
	IdleTimeout     int
	ShutdownTimeout int
	BodyLimit       int
	// Token, when set, is the bearer token every /api request must carry.
	Token string
	// ExternalURL is where humans reach the server; used in notification links.
	ExternalURL string
}

func (h *Http) SetDefaults() {
	if h.Host == "" {
		h.Host = "0.0.0.0"
	}
	if h.Port == 0 {
		h.Port = 8080
	}
	if h.ReadTimeout == 0 {
		h.ReadTimeout = 30
	}
	if h.WriteTimeout == 0 {
		h.WriteTimeout = 30
	}
	if h.IdleTimeout == 0 {
		h.IdleTimeout = 120
	}
	if h.ShutdownTimeout == 0 {
		h.ShutdownTimeout = 10
	}
	if h.BodyLimit <= 0 {
		h.BodyLimit = 4 * 1024 * 1024
	}
}

func (h *Http) Addr() string { return fmt.Sprintf("%s:%d", h.Host, h.Port) }

// FiberConfig maps the timeouts onto a fiber app config.
func (h *Http) FiberConfig(name string) fiber.Config {
	return fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ReadTimeout:           time.Duration(h.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(h.WriteTimeout) * time.Second,
		IdleTimeout:           time.Duration(h.IdleTimeout) * time.Second,
		BodyLimit:             h.BodyLimit,
	}
}

// NewHttp starts serving app in the background and returns a function that
// shuts the server down gracefully. errc receives the listener's exit error.
func NewHttp(cfg Http, app *fiber.App) (shutdown func(context.Context) error, errc <-chan error) {
	ch := make(chan error, 1)
	go func() {
		log.Infow("http server listening", "addr", cfg.Addr())
		ch <- app.Listen(cfg.Addr())
	}()

	return func(ctx context.Context) error {
		timeout := time.Duration(cfg.ShutdownTimeout) * time.Second
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
		}
		log.Infow("http server shutting down", "timeout", timeout)
		return app.ShutdownWithTimeout(timeout)
	}, ch
}
