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
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
)

var manifestMediaTypes = strings.Join([]string{
	"application/vnd.oci.image.index.v1+json",
	"application/vnd.oci.image.manifest.v1+json",
	"application/vnd.docker.distribution.manifest.list.v2+json",
	"application/vnd.docker.distribution.manifest.v2+json",
}, ", ")

// Distribution talks to the Registry HTTP API v2. It only reads manifests,
// pushing goes through the Docker Engine.
type Distribution struct {
	client *resty.Client

	mu     sync.Mutex
	tokens map[string]string // scope -> bearer token
}

func NewDistribution(timeout time.Duration) *Distribution {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Distribution{
		client: resty.New().SetTimeout(timeout),
		tokens: make(map[string]string),
	}
}

// ManifestDigest returns the digest a tag currently points to.
// found is false when the tag does not exist.
func (d *Distribution) ManifestDigest(ctx context.Context, baseURL, repository, tag string, creds Credentials) (digest string, found bool, err error) {
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", strings.TrimRight(baseURL, "/"), repository, tag)
	scope := fmt.Sprintf("repository:%s:pull", repository)

	resp, err := d.head(ctx, url, d.cachedToken(baseURL+scope))
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		token, err := d.authorize(ctx, resp.Header().Get("WWW-Authenticate"), scope, creds)
		if err != nil {
			return "", false, err
		}
		d.storeToken(baseURL+scope, token)
		if resp, err = d.head(ctx, url, token); err != nil {
			return "", false, err
		}
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return "", false, nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "", false, fmt.Errorf("HEAD %s: %d: %w", url, code, errdefs.ErrAuthRejected)
	case code >= 200 && code < 300:
		digest = resp.Header().Get("Docker-Content-Digest")
		if digest == "" {
			return "", false, fmt.Errorf("HEAD %s: response carries no Docker-Content-Digest", url)
		}
		return digest, true, nil
	default:
		return "", false, fmt.Errorf("HEAD %s: unexpected status %d", url, code)
	}
}

// head sends the manifest probe. token is either "Bearer x", "Basic x" or empty.
func (d *Distribution) head(ctx context.Context, url, token string) (*resty.Response, error) {
	req := d.client.R().SetContext(ctx).SetHeader("Accept", manifestMediaTypes)
	if token != "" {
		req.SetHeader("Authorization", token)
	}
	resp, err := req.Head(url)
	if err != nil {
		return nil, fmt.Errorf("HEAD %s: %w", url, err)
	}
	return resp, nil
}

// authorize answers a WWW-Authenticate challenge and returns the value of
// the Authorization header to use.
func (d *Distribution) authorize(ctx context.Context, header, scope string, creds Credentials) (string, error) {
	scheme, params := parseChallenge(header)
	switch strings.ToLower(scheme) {
	case "basic":
		if creds.Username == "" {
			return "", errdefs.ErrAuthRejected
		}
		return "Basic " + basicAuth(creds.Username, creds.Password), nil
	case "bearer":
	default:
		return "", fmt.Errorf("unsupported auth challenge %q", header)
	}

	realm := params["realm"]
	if realm == "" {
		return "", fmt.Errorf("bearer challenge without realm: %q", header)
	}
	query := map[string]string{"scope": scope}
	if s := params["scope"]; s != "" {
		query["scope"] = s
	}
	if s := params["service"]; s != "" {
		query["service"] = s
	}

	req := d.client.R().SetContext(ctx).SetQueryParams(query)
	if creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	resp, err := req.Get(realm)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return "", fmt.Errorf("token request: %d: %w", resp.StatusCode(), errdefs.ErrAuthRejected)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("token request: unexpected status %d", resp.StatusCode())
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := sonic.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	token := body.Token
	if token == "" {
		token = body.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("token response carries no token")
	}
	return "Bearer " + token, nil
}

func (d *Distribution) cachedToken(key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tokens[key]
}

func (d *Distribution) storeToken(key, token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[key] = token
}

// parseChallenge splits `Bearer realm="x",service="y"` into scheme and params.
func parseChallenge(header string) (string, map[string]string) {
	params := map[string]string{}
	scheme, rest, _ := strings.Cut(strings.TrimSpace(header), " ")
	for len(rest) > 0 {
		rest = strings.TrimLeft(rest, " ,")
		key, after, ok := strings.Cut(rest, "=")
		if !ok {
			break
		}
		var value string
		if strings.HasPrefix(after, `"`) {
			end := strings.Index(after[1:], `"`)
			if end < 0 {
				value, rest = after[1:], ""
			} else {
				value, rest = after[1:end+1], after[end+2:]
			}
		} else {
			value, rest, _ = strings.Cut(after, ",")
		}
		params[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return scheme, params
}
