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
	"fmt"
	"time"

	"github.com/go-arcade/relay/pkg/metrics"
)

type WebhookConf struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
}

type Conf struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Template string        `mapstructure:"template"`
	Slack    struct {
		WebhookURL string `mapstructure:"webhookurl"`
	} `mapstructure:"slack"`
	Webhooks []WebhookConf `mapstructure:"webhooks"`
	NATS     struct {
		URL     string `mapstructure:"url"`
		Subject string `mapstructure:"subject"`
	} `mapstructure:"nats"`
	RabbitMQ struct {
		URL      string `mapstructure:"url"`
		Exchange string `mapstructure:"exchange"`
	} `mapstructure:"rabbitmq"`
	GitHub struct {
		APIURL     string `mapstructure:"apiurl"`
		Token      string `mapstructure:"token"`
		Repository string `mapstructure:"repository"`
		Context    string `mapstructure:"context"`
	} `mapstructure:"github"`
}

// New builds a manager with every channel enabled in c.
func New(c Conf, m *metrics.Metrics) (*Manager, error) {
	renderer, err := NewRenderer(c.Template)
	if err != nil {
		return nil, err
	}
	nm := NewManager(c.Timeout, m)

	add := func(ch Channel, err error) error {
		if err != nil {
			_ = nm.Close()
			return err
		}
		return nm.Register(ch)
	}

	if c.Slack.WebhookURL != "" {
		if err := add(NewSlackChannel(c.Slack.WebhookURL, renderer)); err != nil {
			return nil, err
		}
	}
	for i, w := range c.Webhooks {
		if w.Name == "" {
			w.Name = fmt.Sprintf("webhook-%d", i)
		}
		if err := add(NewWebhookChannel(w.Name, w.URL, w.Method, w.Headers)); err != nil {
			return nil, err
		}
	}
	if c.GitHub.Token != "" {
		if err := add(NewGitHubStatusChannel(c.GitHub.APIURL, c.GitHub.Token, c.GitHub.Repository, c.GitHub.Context)); err != nil {
			return nil, err
		}
	}
	if c.NATS.URL != "" {
		if err := add(NewNATSChannel(c.NATS.URL, c.NATS.Subject)); err != nil {
			return nil, err
		}
	}
	if c.RabbitMQ.URL != "" {
		if err := add(NewRabbitMQChannel(c.RabbitMQ.URL, c.RabbitMQ.Exchange)); err != nil {
			return nil, err
		}
	}
	return nm, nil
}
