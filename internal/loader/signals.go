package loader

import (
	"strings"

	"github.com/dagucloud/herd/internal/engine"
	"github.com/dagucloud/herd/internal/run"
)

// CountSignals estimates how many times each signal fires during the Run
// stage: every signal node reachable from a role's run scripts counts once
// per host of the role. Signals with a computed name or defined by a
// set-signal node are left out.
func CountSignals(plan *run.Plan) map[string]int {
	counts := map[string]int{}
	defined := map[string]bool{}
	for _, role := range plan.Roles {
		for _, ref := range role.Run {
			walkScript(plan, ref.Name, map[string]bool{}, func(c *engine.Cmd) {
				name := signalName(c)
				if name == "" || strings.Contains(name, "${{") {
					return
				}
				switch c.Kind() {
				case engine.KindSignal:
					counts[name] += len(role.Hosts)
				case engine.KindSetSignal:
					defined[name] = true
				}
			})
		}
	}
	for name := range defined {
		delete(counts, name)
	}
	return counts
}

func signalName(c *engine.Cmd) string {
	fields := strings.Fields(c.Arg())
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// walkScript visits every node of a script and of the scripts it calls.
// seen guards against scripts calling themselves.
func walkScript(plan *run.Plan, name string, seen map[string]bool, fn func(*engine.Cmd)) {
	if seen[name] {
		return
	}
	root, ok := plan.Scripts[name]
	if !ok {
		return
	}
	seen[name] = true
	defer delete(seen, name)
	root.Walk(func(c *engine.Cmd) bool {
		switch c.Kind() {
		case engine.KindSignal, engine.KindSetSignal:
			fn(c)
		case engine.KindScript:
			walkScript(plan, c.Arg(), seen, fn)
		}
		return true
	})
}
