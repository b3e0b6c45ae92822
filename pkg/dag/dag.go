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

// Package dag models stage dependencies as a directed acyclic graph and
// answers the scheduling questions the orchestrator asks of it.
package dag

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// NamedNode is implemented by anything that can be placed into a DAG.
type NamedNode interface {
	// NodeName uniquely identifies a node.
	NodeName() string
	// PrevNodeNames lists the nodes that must finish before this one.
	PrevNodeNames() []string
}

// Node is a vertex of a built DAG.
type Node interface {
	NamedNode
	PrevNodes() []Node
	NextNodes() []Node
	NextNodeNames() []string
}

// DAG is immutable after New returns.
type DAG struct {
	Nodes map[string]*node
	// names in insertion order, used to keep results deterministic
	order []string
}

// New builds a DAG and rejects duplicates, dangling dependencies and cycles.
func New(nodes []NamedNode) (*DAG, error) {
	g := &DAG{Nodes: make(map[string]*node, len(nodes))}
	for _, n := range nodes {
		name := n.NodeName()
		if name == "" {
			return nil, errors.New("node with empty name")
		}
		if _, ok := g.Nodes[name]; ok {
			return nil, errors.Errorf("duplicate node: %s", name)
		}
		g.Nodes[name] = &node{name: name, prevNodeNames: n.PrevNodeNames()}
		g.order = append(g.order, name)
	}

	for _, name := range g.order {
		n := g.Nodes[name]
		for _, prev := range n.prevNodeNames {
			if prev == name {
				return nil, errors.Errorf("self cycle detected: node %q depends on itself", name)
			}
			p, ok := g.Nodes[prev]
			if !ok {
				return nil, errors.Errorf("node %q depends on an nonexistent node %q", name, prev)
			}
			n.prevNodes = append(n.prevNodes, p)
			p.nextNodes = append(p.nextNodes, n)
		}
	}

	if _, err := g.TopologicalOrder(); err != nil {
		return nil, err
	}
	return g, nil
}

// TopologicalOrder returns node names so that every node follows all of its
// predecessors. Ties are broken by name.
func (g *DAG) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	var ready []string
	for name, n := range g.Nodes {
		indegree[name] = len(n.prevNodes)
		if len(n.prevNodes) == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	result := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		result = append(result, name)

		var unlocked []string
		for _, next := range g.Nodes[name].nextNodes {
			indegree[next.name]--
			if indegree[next.name] == 0 {
				unlocked = append(unlocked, next.name)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(result) != len(g.Nodes) {
		var stuck []string
		for name, d := range indegree {
			if d > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, errors.Errorf("cycle detected among: %s", strings.Join(stuck, ", "))
	}
	return result, nil
}

// Roots returns the names of nodes without predecessors.
func (g *DAG) Roots() []string {
	var roots []string
	for _, name := range g.order {
		if len(g.Nodes[name].prevNodes) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// Descendants returns every node reachable from name, sorted.
func (g *DAG) Descendants(name string) ([]string, error) {
	start, ok := g.Nodes[name]
	if !ok {
		return nil, errors.Errorf("node %q not found in DAG", name)
	}
	seen := map[string]struct{}{}
	stack := append([]*node(nil), start.nextNodes...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n.name]; ok {
			continue
		}
		seen[n.name] = struct{}{}
		stack = append(stack, n.nextNodes...)
	}
	result := make([]string, 0, len(seen))
	for n := range seen {
		result = append(result, n)
	}
	sort.Strings(result)
	return result, nil
}

// GetSchedulable returns the nodes that are not finished and whose
// predecessors are all in finishes.
func (g *DAG) GetSchedulable(finishes ...string) (map[string]Node, error) {
	done := make(map[string]struct{}, len(finishes))
	for _, name := range finishes {
		if _, ok := g.Nodes[name]; !ok {
			return nil, errors.Errorf("node %q not found in DAG", name)
		}
		done[name] = struct{}{}
	}

	result := make(map[string]Node)
	for name, n := range g.Nodes {
		if _, ok := done[name]; ok {
			continue
		}
		ready := true
		for _, prev := range n.prevNodes {
			if _, ok := done[prev.name]; !ok {
				ready = false
				break
			}
		}
		if ready {
			result[name] = n
		}
	}
	return result, nil
}

// GetSchedulableNodeNames is GetSchedulable returning sorted names.
func (g *DAG) GetSchedulableNodeNames(finishes ...string) ([]string, error) {
	m, err := g.GetSchedulable(finishes...)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(m))
	for name := range m {
		result = append(result, name)
	}
	sort.Strings(result)
	return result, nil
}

type node struct {
	name          string
	prevNodeNames []string

	prevNodes []*node
	nextNodes []*node
}

func (n *node) NodeName() string { return n.name }

func (n *node) PrevNodeNames() []string { return n.prevNodeNames }

func (n *node) PrevNodes() []Node {
	r := make([]Node, 0, len(n.prevNodes))
	for _, p := range n.prevNodes {
		r = append(r, p)
	}
	return r
}

func (n *node) NextNodes() []Node {
	r := make([]Node, 0, len(n.nextNodes))
	for _, next := range n.nextNodes {
		r = append(r, next)
	}
	return r
}

func (n *node) NextNodeNames() []string {
	r := make([]string, 0, len(n.nextNodes))
	for _, next := range n.nextNodes {
		r = append(r, next.name)
	}
	return r
}
