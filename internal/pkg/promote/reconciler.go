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

package promote

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Reconciler is told that an application has new desired state.
type Reconciler interface {
	Sync(ctx context.Context, application string) error
}

// NopReconciler leaves reconciliation to the reconciler's own polling.
type NopReconciler struct{}

func (NopReconciler) Sync(context.Context, string) error { return nil }

// ReconcilerConf configures the reconciler signal.
type ReconcilerConf struct {
	Kind     string // none | argocd
	Server   string
	Token    string
	Insecure bool
	Timeout  time.Duration
}

func NewReconciler(c ReconcilerConf) (Reconciler, error) {
	switch strings.ToLower(c.Kind) {
	case "", "none":
		return NopReconciler{}, nil
	case "argocd":
		return NewArgoCD(c)
	default:
		return nil, fmt.Errorf("unsupported reconciler %q", c.Kind)
	}
}

// ArgoCD triggers an application sync through the Argo CD API.
type ArgoCD struct {
	client *resty.Client
}

func NewArgoCD(c ReconcilerConf) (*ArgoCD, error) {
	if c.Server == "" {
		return nil, fmt.Errorf("argocd server is required")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(c.Server, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if c.Token != "" {
		client.SetAuthToken(c.Token)
	}
	if c.Insecure {
		client.SetTLSClientConfig(insecureTLS())
	}
	return &ArgoCD{client: client}, nil
}

func (a *ArgoCD) Sync(ctx context.Context, application string) error {
	if application == "" {
		return nil
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"prune": false}).
		Post("/api/v1/applications/" + url.PathEscape(application) + "/sync")
	if err != nil {
		return fmt.Errorf("argocd sync %s: %w", application, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("argocd sync %s: status %d: %s", application, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
