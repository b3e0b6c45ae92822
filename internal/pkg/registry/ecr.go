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
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
)

// ECRAPI is the part of the ECR client used to mint registry credentials.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// NewECR publishes to Amazon ECR. Credentials are exchanged for a
// short-lived registry token. Tags are <env>-<short commit>.
func NewECR(ctx context.Context, name string, c Conf, deps Deps) (Registry, error) {
	host := c.Host
	if host == "" {
		if c.AccountID == "" || c.Region == "" {
			return nil, fmt.Errorf("ecr needs either Host or AccountID and Region")
		}
		host = fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", c.AccountID, c.Region)
	}
	api := deps.ECR
	if api == nil {
		opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
		if c.AccessKey != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		api = ecr.NewFromConfig(cfg)
	}
	src := &ecrCredentials{api: api, host: host}
	return newRemote("ecr", name, host, "", c, src.get, envTag, deps)
}

// ecrCredentials caches the authorization token until shortly before expiry.
type ecrCredentials struct {
	api  ECRAPI
	host string

	mu      sync.Mutex
	cached  Credentials
	expires time.Time
}

func (e *ecrCredentials) get(ctx context.Context) (Credentials, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cached.Password != "" && time.Now().Add(time.Minute).Before(e.expires) {
		return e.cached, nil
	}

	out, err := e.api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Credentials{}, fmt.Errorf("ecr GetAuthorizationToken: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return Credentials{}, fmt.Errorf("ecr returned no authorization data: %w", errdefs.ErrAuthRejected)
	}
	data := out.AuthorizationData[0]
	raw, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return Credentials{}, fmt.Errorf("decode ecr token: %w", err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Credentials{}, fmt.Errorf("malformed ecr token: %w", errdefs.ErrAuthRejected)
	}
	server := aws.ToString(data.ProxyEndpoint)
	if server == "" {
		server = "https://" + e.host
	}
	e.cached = Credentials{Username: user, Password: pass, ServerAddress: server}
	e.expires = time.Now().Add(12 * time.Hour)
	if data.ExpiresAt != nil {
		e.expires = *data.ExpiresAt
	}
	return e.cached, nil
}
