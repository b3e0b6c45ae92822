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

// Package pprof serves runtime profiles on a separate debug listener.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-arcade/relay/pkg/log"
)

type Conf struct {
	Enable bool
	Host   string
	Port   int
	Path   string
}

func (c *Conf) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8083
	}
	if c.Path == "" {
		c.Path = "/debug/pprof"
	}
}

type Server struct {
	conf   Conf
	server *http.Server
	addr   string
}

func NewServer(c Conf) *Server {
	c.SetDefaults()
	return &Server{conf: c}
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() string { return s.addr }

// Start binds the listener and serves in the background. It is a no-op when
// profiling is disabled.
func (s *Server) Start() error {
	if !s.conf.Enable {
		return nil
	}
	p := s.conf.Path

	mux := http.NewServeMux()
	mux.HandleFunc(p+"/", pprof.Index)
	mux.HandleFunc(p+"/cmdline", pprof.Cmdline)
	mux.HandleFunc(p+"/profile", pprof.Profile)
	mux.HandleFunc(p+"/symbol", pprof.Symbol)
	mux.HandleFunc(p+"/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		mux.Handle(p+"/"+name, pprof.Handler(name))
	}

	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.conf.Host, s.conf.Port))
	if err != nil {
		return fmt.Errorf("pprof listen: %w", err)
	}
	s.addr = l.Addr().String()
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Infow("pprof server started", "addr", s.addr)
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("pprof server failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
