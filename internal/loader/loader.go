// Package loader reads herd YAML files into a run.Plan.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"dario.cat/mergo"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"

	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/engine"
	"github.com/dagucloud/herd/internal/run"
)

// ErrNoInput is returned when no file or document is given.
var ErrNoInput = errors.New("no configuration given")

// ErrNoMatch is returned when a glob pattern matches no file.
var ErrNoMatch = errors.New("no file matches pattern")

// definition is one YAML document before it is turned into command graphs.
type definition struct {
	Name       string                    `mapstructure:"name"`
	Scripts    map[string][]any          `mapstructure:"scripts"`
	Hosts      map[string]any            `mapstructure:"hosts"`
	Roles      map[string]roleDefinition `mapstructure:"roles"`
	States     map[string]any            `mapstructure:"states"`
	Signals    map[string]int            `mapstructure:"signals"`
	SkipStages []string                  `mapstructure:"skip-stages"`
}

type roleDefinition struct {
	Hosts          []string `mapstructure:"hosts"`
	SetupScripts   []any    `mapstructure:"setup-scripts"`
	RunScripts     []any    `mapstructure:"run-scripts"`
	CleanupScripts []any    `mapstructure:"cleanup-scripts"`
}

// Load reads and merges files in order. Later files override earlier ones
// key by key. Arguments may be glob patterns, including **; the matches of
// one pattern are read in lexical order.
func Load(files ...string) (*run.Plan, error) {
	files, err := expandGlobs(files)
	if err != nil {
		return nil, err
	}
	docs := make([][]byte, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		docs = append(docs, data)
	}
	return LoadData(docs...)
}

func expandGlobs(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			files = append(files, pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%s: %w", pattern, ErrNoMatch)
		}
		slices.Sort(matches)
		files = append(files, matches...)
	}
	return files, nil
}

// LoadData is Load for in-memory documents.
func LoadData(docs ...[]byte) (*run.Plan, error) {
	if len(docs) == 0 {
		return nil, ErrNoInput
	}
	merged := &definition{}
	for i, data := range docs {
		def, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		if err := mergo.Merge(merged, def, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
	}
	return build(merged)
}

func decode(data []byte) (*definition, error) {
	var cm map[string]any
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&cm); err != nil {
		return nil, err
	}
	def := &definition{}
	md, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           def,
	})
	if err != nil {
		return nil, err
	}
	if err := md.Decode(cm); err != nil {
		return nil, err
	}
	return def, nil
}

func build(def *definition) (*run.Plan, error) {
	plan := &run.Plan{
		Name:    def.Name,
		Scripts: make(map[string]*engine.Cmd, len(def.Scripts)),
		Hosts:   make(map[string]core.Host, len(def.Hosts)),
		States:  def.States,
		Signals: make(map[string]int),
	}
	maps.Copy(plan.Signals, def.Signals)

	for name, raw := range def.Scripts {
		cmds, err := buildCommands(raw)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", name, err)
		}
		plan.Scripts[name] = engine.MustBuild(engine.KindGroup, "").Then(cmds...)
	}

	for alias, raw := range def.Hosts {
		host, err := buildHost(alias, raw)
		if err != nil {
			return nil, err
		}
		plan.Hosts[alias] = host
	}

	for _, name := range slices.Sorted(maps.Keys(def.Roles)) {
		role, err := buildRole(name, def.Roles[name])
		if err != nil {
			return nil, err
		}
		plan.Roles = append(plan.Roles, role)
	}

	skip, err := core.ParseStageSet(def.SkipStages)
	if err != nil {
		return nil, err
	}
	plan.SkipStages = skip

	for name, count := range CountSignals(plan) {
		if _, ok := plan.Signals[name]; !ok {
			plan.Signals[name] = count
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

func buildRole(name string, def roleDefinition) (core.Role, error) {
	role := core.Role{Name: name, Hosts: def.Hosts}
	var err error
	if role.Setup, err = buildRefs(def.SetupScripts); err != nil {
		return role, fmt.Errorf("role %s setup-scripts: %w", name, err)
	}
	if role.Run, err = buildRefs(def.RunScripts); err != nil {
		return role, fmt.Errorf("role %s run-scripts: %w", name, err)
	}
	if role.Cleanup, err = buildRefs(def.CleanupScripts); err != nil {
		return role, fmt.Errorf("role %s cleanup-scripts: %w", name, err)
	}
	return role, nil
}

// buildRefs accepts "name", {name: {with: {...}}} and
// {name: n, with: {...}}.
func buildRefs(raw []any) ([]core.ScriptRef, error) {
	refs := make([]core.ScriptRef, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			refs = append(refs, core.ScriptRef{Name: v})
		default:
			m, ok := toMap(v)
			if !ok {
				return nil, fmt.Errorf("invalid script reference %v", v)
			}
			ref, err := buildRef(m)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func buildRef(m map[string]any) (core.ScriptRef, error) {
	if name, ok := m["name"].(string); ok {
		with, _ := toMap(m["with"])
		return core.ScriptRef{Name: name, With: with}, nil
	}
	if len(m) != 1 {
		return core.ScriptRef{}, fmt.Errorf("script reference must have exactly one name, got %v", slices.Sorted(maps.Keys(m)))
	}
	for name, body := range m {
		ref := core.ScriptRef{Name: name}
		if body == nil {
			return ref, nil
		}
		opts, ok := toMap(body)
		if !ok {
			return ref, fmt.Errorf("script reference %s: expected a map", name)
		}
		ref.With, _ = toMap(opts["with"])
		return ref, nil
	}
	return core.ScriptRef{}, nil
}
