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

package conf

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/go-arcade/relay/internal/pkg/gate"
	"github.com/go-arcade/relay/internal/pkg/notify"
	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/internal/pkg/registry"
	"github.com/go-arcade/relay/internal/pkg/storage"
	"github.com/go-arcade/relay/pkg/cache"
	"github.com/go-arcade/relay/pkg/http"
	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/retry"
	"github.com/go-arcade/relay/pkg/pprof"
	"github.com/go-arcade/relay/pkg/trace"
)

// EnvPrefix prefixes environment overrides, e.g. RELAY_HTTP_PORT.
const EnvPrefix = "RELAY"

type AppConfig struct {
	Log          log.Conf
	Http         http.Http
	Metrics      MetricsConf
	Trace        trace.Conf
	Pprof        pprof.Conf
	Redis        cache.Redis
	Pipeline     PipelineConf
	Gates        gate.Config
	Storage      storage.Conf
	Docker       registry.EngineConf
	Registries   map[string]registry.Conf
	Environments []promote.Environment
	Promotion    PromotionConf
	Reconciler   promote.ReconcilerConf
	Notify       notify.Conf
}

type MetricsConf struct {
	Enabled bool
	Path    string
}

type PipelineConf struct {
	// Definition is a YAML pipeline file; empty uses the built-in definition.
	Definition  string
	Workspace   string
	MaxParallel int
	Shell       string
	// StageTimeout bounds shell stages without their own timeout.
	StageTimeout time.Duration
	// ReportLinkExpiry is the lifetime of presigned report links.
	ReportLinkExpiry time.Duration
	// RunTTL is how long finished runs stay in Redis.
	RunTTL time.Duration
	// Retry governs registry and manifest retries.
	Retry retry.Policy
}

type PromotionConf struct {
	ApprovalTimeout time.Duration
	// SweepSchedule is a cron expression for expiring approvals.
	SweepSchedule string
	LockTTL       time.Duration
	Git           GitConf
}

// GitConf commits patched manifests when Dir is a git work tree.
type GitConf struct {
	Dir    string
	Push   bool
	Author string
}

// SetDefaults fills everything the file left out.
func (c *AppConfig) SetDefaults() {
	def := log.SetDefaults()
	if c.Log.Output == "" {
		c.Log.Output = def.Output
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Level
	}
	if c.Log.Path == "" {
		c.Log.Path = def.Path
	}
	c.Http.SetDefaults()
	c.Trace.SetDefaults()
	c.Pprof.SetDefaults()
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	p := &c.Pipeline
	if p.Workspace == "" {
		p.Workspace = "."
	}
	if p.MaxParallel <= 0 {
		p.MaxParallel = 4
	}
	if p.Shell == "" {
		p.Shell = "/bin/sh"
	}
	if p.StageTimeout <= 0 {
		p.StageTimeout = 30 * time.Minute
	}
	if p.ReportLinkExpiry <= 0 {
		p.ReportLinkExpiry = 7 * 24 * time.Hour
	}
	if p.RunTTL <= 0 {
		p.RunTTL = 30 * 24 * time.Hour
	}
	if p.Retry.MaxAttempts <= 0 {
		p.Retry.MaxAttempts = 5
	}
	if p.Retry.BaseDelay <= 0 {
		p.Retry.BaseDelay = 500 * time.Millisecond
	}
	if p.Retry.MaxDelay <= 0 {
		p.Retry.MaxDelay = 30 * time.Second
	}

	if c.Gates.Thresholds == nil {
		c.Gates.Thresholds = map[string]float64{}
	}
	for k, v := range map[string]float64{"coverage": 85, "max_critical": 0, "max_high": 0} {
		if _, ok := c.Gates.Thresholds[k]; !ok {
			c.Gates.Thresholds[k] = v
		}
	}

	if c.Storage.Provider == "" {
		c.Storage.Provider = "local"
	}
	if c.Storage.Provider == "local" && c.Storage.BasePath == "" {
		c.Storage.BasePath = "./data"
	}

	for i := range c.Environments {
		if c.Environments[i].Policy == "" {
			c.Environments[i].Policy = promote.PolicyAuto
		}
	}

	pr := &c.Promotion
	if pr.ApprovalTimeout <= 0 {
		pr.ApprovalTimeout = 24 * time.Hour
	}
	if pr.SweepSchedule == "" {
		pr.SweepSchedule = "@every 1m"
	}
	if pr.LockTTL <= 0 {
		pr.LockTTL = 10 * time.Minute
	}
	if pr.Git.Author == "" {
		pr.Git.Author = "relay <relay@localhost>"
	}

	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = 10 * time.Second
	}
}

// Validate checks cross references between sections.
func (c *AppConfig) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Gates.Validate(); err != nil {
		return err
	}
	if len(c.Environments) == 0 {
		return errors.New("no environments configured")
	}

	seen := make(map[string]bool, len(c.Environments))
	for _, e := range c.Environments {
		switch {
		case e.Name == "":
			return errors.New("environment without name")
		case seen[e.Name]:
			return fmt.Errorf("environment %s is configured twice", e.Name)
		case e.Manifest == "":
			return fmt.Errorf("environment %s: manifest is required", e.Name)
		case e.Policy != promote.PolicyAuto && e.Policy != promote.PolicyApproval:
			return fmt.Errorf("environment %s: unknown policy %q", e.Name, e.Policy)
		}
		if _, ok := c.Registries[e.Registry]; !ok {
			return fmt.Errorf("environment %s: registry %q is not configured", e.Name, e.Registry)
		}
		seen[e.Name] = true
	}
	return nil
}

// EnvironmentNames lists environments in promotion order.
func (c *AppConfig) EnvironmentNames() []string {
	out := make([]string, 0, len(c.Environments))
	for _, e := range c.Environments {
		out = append(out, e.Name)
	}
	return out
}

// Loader reads the configuration file and follows changes to it.
type Loader struct {
	v    *viper.Viper
	file string

	mu       sync.Mutex
	watchers []func(*AppConfig)
	watching bool
}

func NewLoader(file string) *Loader {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, file: file}
}

// Load reads, defaults and validates the configuration.
func (l *Loader) Load() (*AppConfig, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	log.Infow("config file loaded", "path", l.file, "environments", cfg.EnvironmentNames())
	return cfg, nil
}

func (l *Loader) decode() (*AppConfig, error) {
	var cfg AppConfig
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration file: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Watch calls fn with every valid configuration written after Load. Invalid
// edits are logged and ignored.
func (l *Loader) Watch(fn func(*AppConfig)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
	if l.watching {
		return
	}
	l.watching = true

	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			log.Warnw("configuration change ignored", "file", e.Name, "error", err)
			return
		}
		log.Infow("configuration changed", "file", e.Name)
		l.mu.Lock()
		watchers := slices.Clone(l.watchers)
		l.mu.Unlock()
		for _, w := range watchers {
			w(cfg)
		}
	})
	l.v.WatchConfig()
}
