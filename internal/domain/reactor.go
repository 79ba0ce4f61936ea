package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Packaging is a Maven packaging type.
type Packaging string

const (
	PackagingJar      Packaging = "jar"
	PackagingWar      Packaging = "war"
	PackagingEar      Packaging = "ear"
	PackagingPom      Packaging = "pom"
	PackagingEjb      Packaging = "ejb"
	PackagingRar      Packaging = "rar"
	PackagingAssembly Packaging = "liberty-assembly"
)

// Runnable reports whether a module of this packaging can host a running server.
func (p Packaging) Runnable() bool {
	switch p {
	case PackagingWar, PackagingEar, PackagingAssembly:
		return true
	default:
		return false
	}
}

// Reactor errors.
var (
	ErrNoRunnableModule = errors.New("no module in the reactor can run a server")
	ErrUnknownModule    = errors.New("unknown module")
	ErrReactorCycle     = errors.New("reactor contains a dependency cycle")
)

// AmbiguousModulesError is returned when several independent runnable modules
// exist and no module was selected explicitly.
type AmbiguousModulesError struct {
	Candidates []string
}

func (e *AmbiguousModulesError) Error() string {
	return fmt.Sprintf("Found multiple independent modules in the reactor: %s. Select one with --module <groupId:artifactId> (or set module in the configuration file).",
		strings.Join(e.Candidates, ", "))
}

// ModuleNode is one module of a (possibly single-module) reactor build.
type ModuleNode struct {
	ID         string
	Dir        string
	Packaging  Packaging
	Upstream   []string
	Downstream []string

	mu            sync.Mutex
	skip          SkipFlags
	artifactTimes map[SourceSet]time.Time
}

// SetSkipFlags replaces the resolved skip flags. Flags are re-resolved when the
// module's build descriptor changes, while tests may be reading them.
func (m *ModuleNode) SetSkipFlags(f SkipFlags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skip = f
}

// SkipFlags returns the resolved skip flags.
func (m *ModuleNode) SkipFlags() SkipFlags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skip
}

// ArtifactID returns the artifact part of the module ID.
func (m *ModuleNode) ArtifactID() string {
	if i := strings.LastIndex(m.ID, ":"); i >= 0 {
		return m.ID[i+1:]
	}
	return m.ID
}

// MarkCompiled records the time the given source set was last compiled.
func (m *ModuleNode) MarkCompiled(set SourceSet, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.artifactTimes == nil {
		m.artifactTimes = make(map[SourceSet]time.Time)
	}
	m.artifactTimes[set] = at
}

// LastCompiled returns the last compile time of a source set (zero if never).
func (m *ModuleNode) LastCompiled(set SourceSet) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.artifactTimes[set]
}

// Reactor is the module DAG of a build, with a stable build order.
type Reactor struct {
	nodes map[string]*ModuleNode
	order []string
}

// NewReactor links the nodes (filling Downstream from Upstream), drops upstream
// references to modules outside the reactor and computes the build order.
func NewReactor(nodes []*ModuleNode) (*Reactor, error) {
	r := &Reactor{nodes: make(map[string]*ModuleNode, len(nodes))}
	declared := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := r.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate module %s", n.ID)
		}
		r.nodes[n.ID] = n
		declared = append(declared, n.ID)
	}
	for _, n := range nodes {
		n.Downstream = nil
	}
	for _, n := range nodes {
		ups := n.Upstream[:0:0]
		for _, up := range n.Upstream {
			parent, ok := r.nodes[up]
			if !ok || up == n.ID {
				continue
			}
			ups = append(ups, up)
			parent.Downstream = append(parent.Downstream, n.ID)
		}
		n.Upstream = ups
	}
	order, err := topoSort(declared, r.nodes)
	if err != nil {
		return nil, err
	}
	r.order = order
	return r, nil
}

func topoSort(declared []string, nodes map[string]*ModuleNode) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	for _, id := range declared {
		indegree[id] = len(nodes[id].Upstream)
	}
	order := make([]string, 0, len(declared))
	done := make(map[string]bool, len(declared))
	for len(order) < len(declared) {
		progressed := false
		for _, id := range declared {
			if done[id] || indegree[id] > 0 {
				continue
			}
			done[id] = true
			order = append(order, id)
			for _, down := range nodes[id].Downstream {
				indegree[down]--
			}
			progressed = true
		}
		if !progressed {
			return nil, ErrReactorCycle
		}
	}
	return order, nil
}

// Module returns the node with the given ID.
func (r *Reactor) Module(id string) (*ModuleNode, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Modules returns all nodes in build order.
func (r *Reactor) Modules() []*ModuleNode {
	out := make([]*ModuleNode, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

// BuildOrder returns module IDs in build order.
func (r *Reactor) BuildOrder() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of modules.
func (r *Reactor) Len() int {
	return len(r.order)
}

// AllDownstream returns every transitive downstream module of id, in build order.
func (r *Reactor) AllDownstream(id string) []string {
	return r.sortByOrder(r.closure(id, func(n *ModuleNode) []string { return n.Downstream }))
}

// AllUpstream returns every transitive upstream module of id, in build order.
func (r *Reactor) AllUpstream(id string) []string {
	return r.sortByOrder(r.closure(id, func(n *ModuleNode) []string { return n.Upstream }))
}

func (r *Reactor) closure(id string, next func(*ModuleNode) []string) map[string]bool {
	seen := make(map[string]bool)
	start, ok := r.nodes[id]
	if !ok {
		return seen
	}
	stack := append([]string(nil), next(start)...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if n, ok := r.nodes[cur]; ok {
			stack = append(stack, next(n)...)
		}
	}
	return seen
}

func (r *Reactor) sortByOrder(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, id := range r.order {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

// Propagate returns the modules that must be recompiled after a change in the
// changed module, in build order. Upstream modules with outstanding compilation
// errors are always retried. Downstream modules are included only when
// recompileDependencies is set.
func (r *Reactor) Propagate(changed string, recompileDependencies bool, failed map[string]bool) []string {
	if _, ok := r.nodes[changed]; !ok {
		return nil
	}
	set := map[string]bool{changed: true}
	for _, up := range r.AllUpstream(changed) {
		if failed[up] {
			set[up] = true
		}
	}
	if recompileDependencies {
		for _, down := range r.AllDownstream(changed) {
			set[down] = true
		}
	}
	return r.sortByOrder(set)
}

// RunnableCandidates returns the runnable modules that have no runnable module
// downstream of them. These are the independent modules dev mode could run.
func (r *Reactor) RunnableCandidates() []string {
	var out []string
	for _, id := range r.order {
		n := r.nodes[id]
		if !n.Packaging.Runnable() {
			continue
		}
		shadowed := false
		for _, down := range r.AllDownstream(id) {
			if r.nodes[down].Packaging.Runnable() {
				shadowed = true
				break
			}
		}
		if !shadowed {
			out = append(out, id)
		}
	}
	return out
}

// SelectRunnable picks the module to run. With an empty selector exactly one
// independent runnable module must exist; otherwise an *AmbiguousModulesError
// lists the candidates and nothing is chosen. A selector matches the full ID,
// the artifact ID or the module directory name.
func (r *Reactor) SelectRunnable(selector string) (*ModuleNode, error) {
	if selector != "" {
		for _, id := range r.order {
			n := r.nodes[id]
			if id == selector || n.ArtifactID() == selector || (n.Dir != "" && filepath.Base(n.Dir) == selector) {
				if !n.Packaging.Runnable() {
					return nil, fmt.Errorf("module %s has packaging %s and cannot run a server", id, n.Packaging)
				}
				return n, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, selector)
	}
	candidates := r.RunnableCandidates()
	switch len(candidates) {
	case 0:
		return nil, ErrNoRunnableModule
	case 1:
		return r.nodes[candidates[0]], nil
	default:
		sorted := append([]string(nil), candidates...)
		sort.Strings(sorted)
		return nil, &AmbiguousModulesError{Candidates: sorted}
	}
}
