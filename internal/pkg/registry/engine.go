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
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
)

// Engine is the part of the Docker Engine API relay needs.
// *client.Client satisfies it.
type Engine interface {
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
}

// EngineConf points at a Docker daemon. An empty Host uses DOCKER_HOST.
type EngineConf struct {
	Host string
}

// NewEngine returns a client with API version negotiation. The daemon is
// contacted lazily.
func NewEngine(c EngineConf) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if c.Host != "" {
		opts = append(opts, client.WithHost(c.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// readPushStream consumes a push progress stream and returns the digest
// reported in its aux record. Errors embedded in the stream are returned.
func readPushStream(rc io.ReadCloser) (string, error) {
	defer rc.Close()
	var digest string
	err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, func(jm jsonmessage.JSONMessage) {
		if jm.Aux == nil {
			return
		}
		var res types.PushResult
		if err := sonic.Unmarshal(*jm.Aux, &res); err == nil && res.Digest != "" {
			digest = res.Digest
		}
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

// drain consumes a pull progress stream, surfacing embedded errors.
func drain(rc io.ReadCloser) error {
	defer rc.Close()
	return jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil)
}
