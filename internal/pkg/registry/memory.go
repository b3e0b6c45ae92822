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

package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
)

// Memory is an in-process registry used for dry runs and tests. When an
// image carries no digest its content is identified by its reference.
type Memory struct {
	name       string
	host       string
	repository string

	mu   sync.Mutex
	tags map[string]string

	// Fault, when set, is consulted before every operation.
	Fault func(op, tag string) error
}

func NewMemory(name, host, repository string) *Memory {
	if host == "" {
		host = name + ".local"
	}
	if repository == "" {
		repository = "app"
	}
	return &Memory{name: name, host: host, repository: repository, tags: make(map[string]string)}
}

func (m *Memory) Name() string       { return m.name }
func (m *Memory) Kind() string       { return "memory" }
func (m *Memory) Host() string       { return m.host }
func (m *Memory) Repository() string { return m.repository }

func (m *Memory) Authenticate(context.Context) (Credentials, error) {
	return Credentials{ServerAddress: m.host}, nil
}

func (m *Memory) TagFor(env, commit, version string) (string, error) {
	return tagFor(plainTag, env, commit, version)
}

func (m *Memory) ScanReference(a Artifact) string { return a.DigestReference() }

func (m *Memory) Push(_ context.Context, img Image, tag string) (Artifact, error) {
	op := m.name + " push " + tag
	if m.Fault != nil {
		if err := m.Fault("push", tag); err != nil {
			return Artifact{}, errdefs.New(errdefs.RegistryError, op, err)
		}
	}
	digest := img.Digest
	if digest == "" {
		sum := sha256.Sum256([]byte(img.Ref))
		digest = "sha256:" + hex.EncodeToString(sum[:])
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tags[tag]; ok && existing != digest {
		return Artifact{}, errdefs.New(errdefs.RegistryError, op,
			fmt.Errorf("%s is %s: %w", tag, existing, errdefs.ErrTagConflict))
	}
	m.tags[tag] = digest
	return Artifact{Registry: m.name, Host: m.host, Repository: m.repository, Tag: tag, Digest: digest}, nil
}

func (m *Memory) Pull(_ context.Context, tag string) (Image, error) {
	op := m.name + " pull " + tag
	if m.Fault != nil {
		if err := m.Fault("pull", tag); err != nil {
			return Image{}, errdefs.New(errdefs.RegistryError, op, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	digest, ok := m.tags[tag]
	if !ok {
		return Image{}, errdefs.New(errdefs.RegistryError, op, errdefs.ErrNotFound)
	}
	return Image{Ref: fmt.Sprintf("%s/%s:%s", m.host, m.repository, tag), Digest: digest}, nil
}

// Tags returns a copy of the tag to digest table.
func (m *Memory) Tags() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.tags))
	for k, v := range m.tags {
		out[k] = v
	}
	return out
}
