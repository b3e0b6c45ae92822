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
	"github.com/google/wire"

	"github.com/go-arcade/relay/internal/conf"
	"github.com/go-arcade/relay/internal/pkg/pipeline"
	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/pkg/metrics"
)

var ProviderSet = wire.NewSet(ProvideRouter)

func ProvideRouter(cfg *conf.AppConfig, orch *pipeline.Orchestrator, approvals *promote.ApprovalManager, m *metrics.Metrics) *Router {
	return NewRouter(&cfg.Http, cfg.Metrics, orch, approvals, m)
}
