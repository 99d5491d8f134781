package core

// ScriptRef names a script invoked by a role, with optional bindings that
// are visible to the script's commands.
type ScriptRef struct {
	Name string
	With map[string]any
}

// Role groups hosts that share setup, run and cleanup scripts.
type Role struct {
	Name    string
	Hosts   []string
	Setup   []ScriptRef
	Run     []ScriptRef
	Cleanup []ScriptRef
}

// Scripts returns the script references for a stage. PreSetup has none.
func (r Role) Scripts(stage Stage) []ScriptRef {
	switch stage {
	case StageSetup:
		return r.Setup
	case StageRun:
		return r.Run
	case StageCleanup:
		return r.Cleanup
	default:
		return nil
	}
}
