// Package resolver implements minimal version selection over a
// PackageIndex. It is adapted from the teacher's mvs.go: each candidate's own
// dependencies are visited, the least version satisfying every visitor's
// requirement is kept, duplicates are reduced to their greatest requested
// version, and the result is sorted by name.
//
// cmd/spindle calls Select directly. lockglue.Resolver is a separate
// interface, which this package does not implement.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/spindle-dev/spindle/version"
)

// Candidate is a single dependency edge: a name and the version requested by
// whichever package introduced it.
type Candidate struct {
	Name             string
	Version          version.Version
	RequestedVersion version.Version
}

// Resolved describes a package as returned by the package index: its
// canonical name/version (which may differ in casing or exact patch level
// from the candidate that requested it) plus its own dependencies.
type Resolved struct {
	Name         string
	Version      version.Version
	Dependencies []Candidate
}

// PackageIndex looks up the canonical package for a given name/version
// candidate. internal/registry and internal/distribution compose to satisfy
// this for real index-backed resolution; tests can supply a fake.
type PackageIndex interface {
	FindPackage(ctx context.Context, name string, v version.Version) (Resolved, error)
}

type node struct {
	value    Candidate
	children []node
}

// Select runs minimal version selection over the root candidates and
// returns the reduced, deterministically-sorted dependency list.
//
// Runtime is proportional to the unreduced visitation count, which is at
// most quadratic in the number of distinct dependencies — see
// https://research.swtch.com/vgo-mvs for the analysis this algorithm is
// drawn from.
func Select(ctx context.Context, roots []Candidate, index PackageIndex) ([]Candidate, error) {
	tree, err := visit(ctx, roots, index, make(map[string]struct{}))
	if err != nil {
		return nil, err
	}

	reduced := reduce(tree)
	sort.Slice(reduced, func(i, j int) bool {
		return reduced[i].Name < reduced[j].Name
	})

	return reduced, nil
}

func visit(ctx context.Context, candidates []Candidate, index PackageIndex, visited map[string]struct{}) ([]node, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	nodes := make([]node, 0, len(candidates))
	for _, c := range candidates {
		key := fmt.Sprintf("%s-%s", c.Name, c.Version)
		if _, ok := visited[key]; ok {
			continue
		}
		visited[key] = struct{}{}

		resolved, err := index.FindPackage(ctx, c.Name, c.Version)
		if err != nil {
			return nil, fmt.Errorf("finding package %q %s: %w", c.Name, c.Version, err)
		}

		children, err := visit(ctx, resolved.Dependencies, index, visited)
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, node{
			value: Candidate{
				Name:             resolved.Name,
				Version:          resolved.Version,
				RequestedVersion: c.Version,
			},
			children: children,
		})
	}

	return nodes, nil
}

// reduce walks the tree and keeps, per name, the candidate with the greatest
// version encountered anywhere in the graph.
func reduce(nodes []node) []Candidate {
	byName := make(map[string][]Candidate)
	walk(nodes, func(c Candidate) {
		byName[c.Name] = append(byName[c.Name], c)
	})

	out := make([]Candidate, 0, len(byName))
	for _, group := range byName {
		greatest := group[0]
		for _, c := range group[1:] {
			if c.Version.GreaterThan(greatest.Version) {
				greatest = c
			}
		}
		out = append(out, greatest)
	}
	return out
}

func walk(nodes []node, f func(Candidate)) {
	for _, n := range nodes {
		f(n.value)
		if len(n.children) > 0 {
			walk(n.children, f)
		}
	}
}
