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
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
)

type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSChannel publishes events as JSON on a subject.
type NATSChannel struct {
	conn    natsConn
	subject string
}

func NewNATSChannel(url, subject string) (*NATSChannel, error) {
	if subject == "" {
		subject = "relay.runs"
	}
	nc, err := nats.Connect(url, nats.Name("relay"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSChannel{conn: nc, subject: subject}, nil
}

func (c *NATSChannel) Name() string { return "nats" }

// Send publishes on <subject>.<status>.
func (c *NATSChannel) Send(ctx context.Context, ev Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.conn.Publish(c.subject+"."+ev.Status, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return c.conn.FlushWithContext(ctx)
}

func (c *NATSChannel) Close() error {
	c.conn.Close()
	return nil
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQChannel publishes events to a topic exchange, routed by status.
type RabbitMQChannel struct {
	conn     *amqp.Connection
	channel  amqpPublisher
	exchange string
}

func NewRabbitMQChannel(url, exchange string) (*RabbitMQChannel, error) {
	if exchange == "" {
		exchange = "relay.runs"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitMQChannel{conn: conn, channel: ch, exchange: exchange}, nil
}

func (c *RabbitMQChannel) Name() string { return "rabbitmq" }

func (c *RabbitMQChannel) Send(ctx context.Context, ev Event) error {
	body, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.channel.PublishWithContext(ctx, c.exchange, "run."+ev.Status, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    ev.RunID,
		Timestamp:    ev.Timestamp,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (c *RabbitMQChannel) Close() error {
	err := c.channel.Close()
	if c.conn != nil {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
