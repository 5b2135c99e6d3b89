package inspection

import (
	"fmt"
	"strings"

	"github.com/sagaflow/engine/saga"
)

// sanitizeStepName replaces spaces and dots with underscores so a step name
// is always a safe node identifier in the diagram DSL.
func sanitizeStepName(name string) string {
	r := strings.NewReplacer(" ", "_", ".", "_")
	return r.Replace(name)
}

// ExportDiagram serializes a saga definition into a simple state-diagram
// DSL: one line per forward transition, one per compensation edge.
func ExportDiagram(def *saga.Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "saga %s v%d {\n", def.Name, def.Version)

	prev := "start"
	for _, step := range def.Steps {
		name := sanitizeStepName(step.Name)
		fmt.Fprintf(&b, "  %s --> %s\n", prev, name)
		if step.Compensation != nil {
			fmt.Fprintf(&b, "  %s ..compensate.. %s\n", name, sanitizeStepName(step.Compensation.HandlerName))
		}
		prev = name
	}
	fmt.Fprintf(&b, "  %s --> completed\n", prev)
	b.WriteString("}\n")
	return b.String()
}
