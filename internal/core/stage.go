package core

import (
	"fmt"
	"strings"
)

// Stage is one phase of a run. Stages execute in declaration order.
type Stage int

const (
	StagePreSetup Stage = iota
	StageSetup
	StageRun
	StageCleanup
	StageDone
)

// Stages lists the executable stages in their fixed order.
var Stages = []Stage{StagePreSetup, StageSetup, StageRun, StageCleanup}

func (s Stage) String() string {
	switch s {
	case StagePreSetup:
		return "pre-setup"
	case StageSetup:
		return "setup"
	case StageRun:
		return "run"
	case StageCleanup:
		return "cleanup"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ParseStage accepts the names produced by String, case-insensitively, with
// or without the dash in pre-setup.
func ParseStage(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pre-setup", "presetup":
		return StagePreSetup, nil
	case "setup":
		return StageSetup, nil
	case "run":
		return StageRun, nil
	case "cleanup":
		return StageCleanup, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// StageSet is a set of stages configured to be skipped.
type StageSet map[Stage]bool

// ParseStageSet parses stage names into a set.
func ParseStageSet(names []string) (StageSet, error) {
	set := StageSet{}
	for _, n := range names {
		s, err := ParseStage(n)
		if err != nil {
			return nil, err
		}
		set[s] = true
	}
	return set, nil
}

func (s StageSet) Has(stage Stage) bool {
	return s[stage]
}
