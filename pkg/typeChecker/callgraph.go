package typeChecker

// CallGraph records which functions each function calls, keyed by the
// scope-qualified name "scope/function". External program calls and builtin
// primitives are not nodes; they stay opaque through inlining.
type CallGraph struct {
	order []string
	edges map[string]map[string]bool
}

func NewCallGraph() *CallGraph {
	return &CallGraph{edges: make(map[string]map[string]bool)}
}

func (g *CallGraph) AddFunc(name string) {
	if _, ok := g.edges[name]; !ok {
		g.order = append(g.order, name)
		g.edges[name] = make(map[string]bool)
	}
}

func (g *CallGraph) AddEdge(from, to string) {
	g.AddFunc(from)
	g.edges[from][to] = true
}

func (g *CallGraph) Calls(from, to string) bool { return g.edges[from][to] }

// Callees returns the functions called by from, in deterministic order.
func (g *CallGraph) Callees(from string) []string {
	var out []string
	for _, name := range g.order {
		if g.edges[from][name] {
			out = append(out, name)
		}
	}
	return out
}

// ReverseTopo orders functions so every callee precedes its callers. The
// second result names a function on a call cycle when no such order exists.
func (g *CallGraph) ReverseTopo() ([]string, string) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.order))
	var out []string
	var cyclic string

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case done:
			return true
		case visiting:
			cyclic = name
			return false
		}
		state[name] = visiting
		for _, callee := range g.Callees(name) {
			if _, known := g.edges[callee]; !known {
				continue
			}
			if !visit(callee) {
				return false
			}
		}
		state[name] = done
		out = append(out, name)
		return true
	}

	for _, name := range g.order {
		if !visit(name) {
			return nil, cyclic
		}
	}
	return out, ""
}
