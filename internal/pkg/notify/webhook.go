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

package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

// SlackChannel posts to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	renderer   *Renderer
	client     *resty.Client
}

func NewSlackChannel(webhookURL string, renderer *Renderer) (*SlackChannel, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is required")
	}
	if renderer == nil {
		var err error
		if renderer, err = NewRenderer(""); err != nil {
			return nil, err
		}
	}
	return &SlackChannel{
		webhookURL: webhookURL,
		renderer:   renderer,
		client:     resty.New().SetJSONMarshaler(sonic.Marshal),
	}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, ev Event) error {
	text, err := c.renderer.Render(ev)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"text": text,
		"blocks": []map[string]any{{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": text},
		}},
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.webhookURL)
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("slack request failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	if body := strings.TrimSpace(resp.String()); body != "ok" {
		return fmt.Errorf("slack API error: %s", body)
	}
	return nil
}

func (c *SlackChannel) Close() error { return nil }

// WebhookChannel sends the event as JSON to an arbitrary endpoint.
type WebhookChannel struct {
	name    string
	url     string
	method  string
	headers map[string]string
	client  *resty.Client
}

func NewWebhookChannel(name, url, method string, headers map[string]string) (*WebhookChannel, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if name == "" {
		name = "webhook"
	}
	if method == "" {
		method = http.MethodPost
	}
	return &WebhookChannel{
		name:    name,
		url:     url,
		method:  strings.ToUpper(method),
		headers: headers,
		client:  resty.New().SetJSONMarshaler(sonic.Marshal),
	}, nil
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Send(ctx context.Context, ev Event) error {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(c.headers).
		SetBody(ev)

	resp, err := req.Execute(c.method, c.url)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode())
	}
	return nil
}

func (c *WebhookChannel) Close() error { return nil }
