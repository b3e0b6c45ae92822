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
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
	"github.com/go-arcade/relay/pkg/lock"
)

// Locker serialises pushes of the same reference.
type Locker = lock.Locker

// credentialSource yields credentials for a registry, possibly minting them.
type credentialSource func(ctx context.Context) (Credentials, error)

func staticCredentials(username, password, server string) credentialSource {
	return func(context.Context) (Credentials, error) {
		if username == "" || password == "" {
			return Credentials{}, fmt.Errorf("missing username or token: %w", errdefs.ErrAuthRejected)
		}
		return Credentials{Username: username, Password: password, ServerAddress: server}, nil
	}
}

// remote is the Docker Engine + Registry API implementation shared by the
// hosted registries. Variants differ in host, credentials and tag convention.
type remote struct {
	name       string
	kind       string
	host       string // used in image references
	apiURL     string // base URL of the registry API
	repository string
	creds      credentialSource
	convention tagConvention

	engine Engine
	api    *Distribution
	locker Locker
}

func newRemote(kind, name, host, apiURL string, c Conf, creds credentialSource, conv tagConvention, deps Deps) (*remote, error) {
	if c.Repository == "" {
		return nil, fmt.Errorf("repository is required")
	}
	if deps.Engine == nil || deps.API == nil {
		return nil, fmt.Errorf("docker engine and registry API client are required")
	}
	if c.Host != "" {
		host = c.Host
	}
	if apiURL == "" {
		scheme := "https"
		if c.Insecure {
			scheme = "http"
		}
		apiURL = scheme + "://" + host
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &remote{
		name:       name,
		kind:       kind,
		host:       host,
		apiURL:     apiURL,
		repository: strings.Trim(c.Repository, "/"),
		creds:      creds,
		convention: conv,
		engine:     deps.Engine,
		api:        deps.API,
		locker:     locker,
	}, nil
}

func (r *remote) Name() string       { return r.name }
func (r *remote) Kind() string       { return r.kind }
func (r *remote) Host() string       { return r.host }
func (r *remote) Repository() string { return r.repository }

func (r *remote) Authenticate(ctx context.Context) (Credentials, error) {
	c, err := r.creds(ctx)
	if err != nil {
		return Credentials{}, errdefs.New(errdefs.RegistryError, r.name+" authenticate", err)
	}
	return c, nil
}

func (r *remote) TagFor(env, commit, version string) (string, error) {
	return tagFor(r.convention, env, commit, version)
}

func (r *remote) ScanReference(a Artifact) string {
	if a.Digest == "" {
		return a.Reference()
	}
	return a.DigestReference()
}

func (r *remote) reference(tag string) string {
	return r.host + "/" + r.repository + ":" + tag
}

func (r *remote) Push(ctx context.Context, img Image, tag string) (Artifact, error) {
	ref := r.reference(tag)
	op := r.name + " push " + ref

	unlock, err := r.locker.Lock(ctx, "tag:"+ref)
	if err != nil {
		return Artifact{}, errdefs.New(errdefs.RegistryError, op, err)
	}
	defer unlock()

	creds, err := r.Authenticate(ctx)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{Registry: r.name, Host: r.host, Repository: r.repository, Tag: tag}

	existing, found, err := r.api.ManifestDigest(ctx, r.apiURL, r.repository, tag, creds)
	if err != nil {
		return Artifact{}, errdefs.New(errdefs.RegistryError, op, err)
	}
	if found {
		same, err := r.sameContent(ctx, img, existing)
		if err != nil {
			return Artifact{}, errdefs.New(errdefs.RegistryError, op, err)
		}
		if !same {
			return Artifact{}, errdefs.New(errdefs.RegistryError, op,
				fmt.Errorf("%s is %s: %w", ref, existing, errdefs.ErrTagConflict))
		}
		art.Digest = existing
		return art, nil
	}

	if img.Ref != ref {
		if err := r.engine.ImageTag(ctx, img.Ref, ref); err != nil {
			return Artifact{}, errdefs.New(errdefs.RegistryError, op, fmt.Errorf("tag %s: %w", img.Ref, err))
		}
	}
	auth, err := dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      creds.Username,
		Password:      creds.Password,
		ServerAddress: creds.ServerAddress,
	})
	if err != nil {
		return Artifact{}, errdefs.New(errdefs.RegistryError, op, err)
	}
	rc, err := r.engine.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return Artifact{}, errdefs.New(errdefs.RegistryError, op, err)
	}
	digest, err := readPushStream(rc)
	if err != nil {
		return Artifact{}, errdefs.New(errdefs.RegistryError, op, err)
	}
	if digest == "" {
		if digest, _, err = r.api.ManifestDigest(ctx, r.apiURL, r.repository, tag, creds); err != nil {
			return Artifact{}, errdefs.New(errdefs.RegistryError, op, err)
		}
	}
	art.Digest = digest
	return art, nil
}

// sameContent reports whether the remote digest is the content of img.
func (r *remote) sameContent(ctx context.Context, img Image, remoteDigest string) (bool, error) {
	if img.Digest != "" && img.Digest == remoteDigest {
		return true, nil
	}
	inspect, _, err := r.engine.ImageInspectWithRaw(ctx, img.Ref)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", img.Ref, err)
	}
	for _, rd := range inspect.RepoDigests {
		name, digest, ok := strings.Cut(rd, "@")
		if ok && digest == remoteDigest && strings.HasSuffix(name, r.repository) {
			return true, nil
		}
	}
	return false, nil
}

func (r *remote) Pull(ctx context.Context, tag string) (Image, error) {
	ref := r.reference(tag)
	op := r.name + " pull " + ref

	creds, err := r.Authenticate(ctx)
	if err != nil {
		return Image{}, err
	}
	digest, found, err := r.api.ManifestDigest(ctx, r.apiURL, r.repository, tag, creds)
	if err != nil {
		return Image{}, errdefs.New(errdefs.RegistryError, op, err)
	}
	if !found {
		return Image{}, errdefs.New(errdefs.RegistryError, op, errdefs.ErrNotFound)
	}
	auth, err := dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      creds.Username,
		Password:      creds.Password,
		ServerAddress: creds.ServerAddress,
	})
	if err != nil {
		return Image{}, errdefs.New(errdefs.RegistryError, op, err)
	}
	rc, err := r.engine.ImagePull(ctx, ref, image.PullOptions{RegistryAuth: auth})
	if err != nil {
		return Image{}, errdefs.New(errdefs.RegistryError, op, err)
	}
	if err := drain(rc); err != nil {
		return Image{}, errdefs.New(errdefs.RegistryError, op, err)
	}
	return Image{Ref: ref, Digest: digest}, nil
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
