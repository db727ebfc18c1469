package workflow

// Order returns a topological execution order for nodes: every node appears
// exactly once and after all nodes feeding it through edges.
//
// The result is deterministic. Roots are visited in node declaration order
// and dependencies in edge declaration order. Edges whose source or target
// is not a declared node are ignored. A dependency cycle fails with a
// *CycleError naming the node at which the cycle was closed.
func Order(nodes []Node, edges []Edge) ([]string, error) {
	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}

	deps := make(map[string][]string, len(nodes))
	for _, e := range edges {
		if _, ok := known[e.Source]; !ok {
			continue
		}
		if _, ok := known[e.Target]; !ok {
			continue
		}
		deps[e.Target] = append(deps[e.Target], e.Source)
	}

	var (
		order    = make([]string, 0, len(known))
		visiting = make(map[string]bool, len(known))
		visited  = make(map[string]bool, len(known))
	)

	var visit func(id string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return &CycleError{NodeID: id}
		}
		visiting[id] = true
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(visiting, id)
		visited[id] = true
		order = append(order, id)
		return nil
	}

	for _, n := range nodes {
		if err := visit(n.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}
