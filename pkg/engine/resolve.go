package engine

// Resolve validates the services and returns their names in start order.
//
// Every service appears after all of its dependencies. Among services whose
// dependencies are already placed, the one declared first wins, so the order
// is deterministic for a given input.
func Resolve(services []ServiceSpec) ([]string, error) {
	index := make(map[string]int, len(services))
	for i, svc := range services {
		if err := svc.Validate(); err != nil {
			return nil, err
		}
		if _, ok := index[svc.Name]; ok {
			return nil, &ConfigError{Kind: DuplicateService, Service: svc.Name, Message: "declared more than once"}
		}
		index[svc.Name] = i
	}

	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, &ConfigError{Kind: UnknownDependency, Service: svc.Name, Dependency: dep}
			}
		}
	}

	placed := make([]bool, len(services))
	order := make([]string, 0, len(services))
	for len(order) < len(services) {
		next := -1
		for i, svc := range services {
			if placed[i] {
				continue
			}
			ready := true
			for _, dep := range svc.DependsOn {
				if !placed[index[dep]] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next < 0 {
			cycle := findCycle(services, index, placed)
			return nil, &ConfigError{Kind: CyclicDependency, Service: cycle[0], Cycle: cycle}
		}
		placed[next] = true
		order = append(order, services[next].Name)
	}
	return order, nil
}

// findCycle walks unplaced services along unplaced dependencies. Every
// unplaced service has at least one unplaced dependency, so the walk must
// revisit a node; the path from that node onward is a cycle.
func findCycle(services []ServiceSpec, index map[string]int, placed []bool) []string {
	start := -1
	for i := range services {
		if !placed[i] {
			start = i
			break
		}
	}

	pos := map[int]int{}
	var path []int
	cur := start
	for {
		if p, ok := pos[cur]; ok {
			names := make([]string, 0, len(path)-p+1)
			for _, i := range path[p:] {
				names = append(names, services[i].Name)
			}
			return append(names, services[cur].Name)
		}
		pos[cur] = len(path)
		path = append(path, cur)

		for _, dep := range services[cur].DependsOn {
			if j := index[dep]; !placed[j] {
				cur = j
				break
			}
		}
	}
}
