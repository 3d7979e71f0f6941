package audit

import "strings"

// InferAction derives the action of an operation. An explicit action wins;
// otherwise the operation name decides, checked in this order:
// create*/add*, save* without "update", *update*/edit*, delete*/remove*.
// Anything else is a read.
func InferAction(explicit Action, operation string) Action {
	if explicit != ActionDefault {
		return explicit
	}

	name := strings.ToLower(operation)
	switch {
	case strings.HasPrefix(name, "create"), strings.HasPrefix(name, "add"):
		return ActionCreate
	case strings.HasPrefix(name, "save") && !strings.Contains(name, "update"):
		return ActionCreate
	case strings.Contains(name, "update"), strings.HasPrefix(name, "edit"):
		return ActionUpdate
	case strings.HasPrefix(name, "delete"), strings.HasPrefix(name, "remove"):
		return ActionDelete
	default:
		return ActionRead
	}
}
