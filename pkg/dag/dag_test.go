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

package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	name  string
	needs []string
}

func (n testNode) NodeName() string        { return n.name }
func (n testNode) PrevNodeNames() []string { return n.needs }

func nodes(specs ...testNode) []NamedNode {
	r := make([]NamedNode, 0, len(specs))
	for _, s := range specs {
		r = append(r, s)
	}
	return r
}

// build -> test -> {quality, lint} -> image -> publish
func releaseGraph(t *testing.T) *DAG {
	t.Helper()
	g, err := New(nodes(
		testNode{name: "build"},
		testNode{name: "test", needs: []string{"build"}},
		testNode{name: "lint", needs: []string{"build"}},
		testNode{name: "quality", needs: []string{"test"}},
		testNode{name: "image", needs: []string{"quality", "lint"}},
		testNode{name: "publish", needs: []string{"image"}},
	))
	require.NoError(t, err)
	return g
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name  string
		nodes []NamedNode
	}{
		{"duplicate", nodes(testNode{name: "a"}, testNode{name: "a"})},
		{"missing dependency", nodes(testNode{name: "a", needs: []string{"ghost"}})},
		{"self cycle", nodes(testNode{name: "a", needs: []string{"a"}})},
		{"cycle", nodes(
			testNode{name: "a", needs: []string{"c"}},
			testNode{name: "b", needs: []string{"a"}},
			testNode{name: "c", needs: []string{"b"}},
		)},
		{"empty name", nodes(testNode{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.nodes)
			assert.Error(t, err)
		})
	}
}

func TestGetSchedulable(t *testing.T) {
	g := releaseGraph(t)

	names, err := g.GetSchedulableNodeNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"build"}, names)

	names, err = g.GetSchedulableNodeNames("build")
	require.NoError(t, err)
	assert.Equal(t, []string{"lint", "test"}, names)

	// image waits for both branches
	names, err = g.GetSchedulableNodeNames("build", "test", "quality")
	require.NoError(t, err)
	assert.Equal(t, []string{"lint"}, names)

	names, err = g.GetSchedulableNodeNames("build", "test", "quality", "lint")
	require.NoError(t, err)
	assert.Equal(t, []string{"image"}, names)

	_, err = g.GetSchedulable("unknown")
	assert.Error(t, err)
}

func TestTopologicalOrder(t *testing.T) {
	g := releaseGraph(t)
	order, err := g.TopologicalOrder()
	require.NoError(t, err)

	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	for name, n := range g.Nodes {
		for _, prev := range n.PrevNodeNames() {
			assert.Less(t, pos[prev], pos[name], "%s must come before %s", prev, name)
		}
	}
}

func TestDescendants(t *testing.T) {
	g := releaseGraph(t)
	d, err := g.Descendants("test")
	require.NoError(t, err)
	assert.Equal(t, []string{"image", "publish", "quality"}, d)

	d, err = g.Descendants("publish")
	require.NoError(t, err)
	assert.Empty(t, d)

	assert.Equal(t, []string{"build"}, g.Roots())
}
