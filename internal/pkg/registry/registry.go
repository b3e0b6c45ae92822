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

// Package registry publishes container images to GHCR, Docker Hub, ECR and
// ACR behind one capability interface, enforcing tag immutability.
package registry

import (
	"context"
	"fmt"
	"strings"
)

// Image is a local (or already remote) image to publish. Digest is the
// content digest when the caller knows it.
type Image struct {
	Ref    string `json:"ref"`
	Digest string `json:"digest,omitempty"`
}

// Artifact is a published image. One digest per (registry, repository, tag).
type Artifact struct {
	Registry   string `json:"registry"`
	Host       string `json:"host"`
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
	Digest     string `json:"digest"`
	Commit     string `json:"commit,omitempty"`
}

// Reference is host/repository:tag.
func (a Artifact) Reference() string {
	return fmt.Sprintf("%s/%s:%s", a.Host, a.Repository, a.Tag)
}

// DigestReference is host/repository@digest, immune to tag moves.
func (a Artifact) DigestReference() string {
	return fmt.Sprintf("%s/%s@%s", a.Host, a.Repository, a.Digest)
}

// Credentials authenticate against a registry host.
type Credentials struct {
	Username      string
	Password      string
	ServerAddress string
}

// Registry is the capability set every backend exposes.
type Registry interface {
	Name() string
	Kind() string
	Host() string
	Repository() string
	Authenticate(ctx context.Context) (Credentials, error)
	// TagFor returns the tag convention of this registry for env.
	// Production always receives the semantic version.
	TagFor(env, commit, version string) (string, error)
	// Push publishes img under tag. Pushing identical content to an existing
	// tag succeeds without a write; different content fails with
	// errdefs.ErrTagConflict.
	Push(ctx context.Context, img Image, tag string) (Artifact, error)
	// Pull makes tag available locally and returns it with its digest.
	Pull(ctx context.Context, tag string) (Image, error)
	// ScanReference is the reference scanners should analyse.
	ScanReference(a Artifact) string
}

// Conf configures one registry.
type Conf struct {
	Kind       string // ghcr | dockerhub | ecr | acr | memory
	Host       string
	Repository string
	Username   string
	Token      string
	// ACR registry name, <name>.azurecr.io
	Name string
	// ECR
	AccountID string
	Region    string
	AccessKey string
	SecretKey string
	// Insecure talks plain http to the registry API, for local registries.
	Insecure bool
}

// Set indexes configured registries by name.
type Set map[string]Registry

// Get returns the registry called name.
func (s Set) Get(name string) (Registry, error) {
	r, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("registry %q is not configured", name)
	}
	return r, nil
}

// Deps are the collaborators remote registries share.
type Deps struct {
	Engine Engine
	API    *Distribution
	Locker Locker
	ECR    ECRAPI // optional, built from the ECR config when nil
}

// New builds every configured registry.
func New(ctx context.Context, confs map[string]Conf, deps Deps) (Set, error) {
	set := make(Set, len(confs))
	for name, c := range confs {
		var (
			r   Registry
			err error
		)
		switch strings.ToLower(c.Kind) {
		case "ghcr":
			r, err = NewGHCR(name, c, deps)
		case "dockerhub":
			r, err = NewDockerHub(name, c, deps)
		case "ecr":
			r, err = NewECR(ctx, name, c, deps)
		case "acr":
			r, err = NewACR(name, c, deps)
		case "memory":
			r = NewMemory(name, c.Host, c.Repository)
		default:
			err = fmt.Errorf("unsupported registry kind %q", c.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("registry %s: %w", name, err)
		}
		set[name] = r
	}
	return set, nil
}
