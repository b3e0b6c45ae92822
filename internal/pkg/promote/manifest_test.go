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

package promote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deployment = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: catalog
spec:
  template:
    spec:
      containers:
        - name: catalog
          image: "ghcr.io/acme/catalog:sha-1111111" # managed by relay
          ports:
            - containerPort: 8080
        - name: proxy
          image: envoyproxy/envoy:v1.30.1
`

func TestPatchImage(t *testing.T) {
	out, changed, err := PatchImage([]byte(deployment), "acme/catalog", "ghcr.io/acme/catalog:sha-2222222")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, string(out), `          image: "ghcr.io/acme/catalog:sha-2222222" # managed by relay`+"\n")
	assert.Contains(t, string(out), "image: envoyproxy/envoy:v1.30.1\n", "unrelated image untouched")
	assert.Len(t, out, len(deployment))
}

func TestPatchImage_Idempotent(t *testing.T) {
	ref := "ghcr.io/acme/catalog:sha-2222222"
	once, changed, err := PatchImage([]byte(deployment), "acme/catalog", ref)
	require.NoError(t, err)
	require.True(t, changed)

	twice, changed, err := PatchImage(once, "acme/catalog", ref)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, once, twice)
}

func TestPatchImage_SingleLineFallback(t *testing.T) {
	in := "image: registry.local/other:1\r\nreplicas: 2\r\n"
	out, changed, err := PatchImage([]byte(in), "acme/catalog", "acme/catalog:3")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "image: acme/catalog:3\r\nreplicas: 2\r\n", string(out))
}

func TestPatchImage_Ambiguous(t *testing.T) {
	in := "a:\n  image: x/one:1\nb:\n  image: x/two:1\n"
	_, _, err := PatchImage([]byte(in), "acme/catalog", "acme/catalog:3")
	assert.Error(t, err)
}

func TestPatchImage_DigestAndNoTrailingNewline(t *testing.T) {
	in := "image: 123.dkr.ecr.us-east-1.amazonaws.com/catalog@sha256:abc"
	out, changed, err := PatchImage([]byte(in), "catalog", "123.dkr.ecr.us-east-1.amazonaws.com/catalog:prod-1.2.3")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "image: 123.dkr.ecr.us-east-1.amazonaws.com/catalog:prod-1.2.3", string(out))
}

func TestImageOf(t *testing.T) {
	ref, ok := ImageOf([]byte(deployment))
	assert.True(t, ok)
	assert.Equal(t, "ghcr.io/acme/catalog:sha-1111111", ref)

	_, ok = ImageOf([]byte("kind: ConfigMap\n"))
	assert.False(t, ok)
}

func TestSameRepository(t *testing.T) {
	assert.True(t, sameRepository("ghcr.io/acme/catalog:sha-1", "acme/catalog"))
	assert.True(t, sameRepository("ghcr.io/acme/catalog:sha-1", "ghcr.io/acme/catalog"))
	assert.True(t, sameRepository("localhost:5000/catalog", "catalog"))
	assert.False(t, sameRepository("ghcr.io/acme/catalog-web:1", "acme/catalog"))
}
