package loader_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/engine"
	"github.com/dagucloud/herd/internal/loader"
)

const demo = `
name: demo
scripts:
  prepare:
    - sh: apt-get update
      timer:
        "1500":
          - log: still updating
    - signal: ready
  migrate:
    - wait-for: ready
    - sh: ./migrate
      ignore-exit-code: true
    - regex: "(?P<version>\\d+)"
      else:
        - abort: no version
          skip-cleanup: true
  loop:
    - for-each: item a,b,c
      then:
        - echo: ${{item}}
hosts:
  web1: deploy@10.0.0.1
  web2: {host: 10.0.0.2, user: deploy, port: 2222, key: ~/.ssh/web}
  db: local
  box: {container: app}
roles:
  web:
    hosts: [web1, web2]
    run-scripts: [prepare]
  db:
    hosts: db
    setup-scripts:
      - loop: {with: {target: prod}}
    run-scripts: [migrate]
states:
  version: 3
skip-stages: [cleanup]
`

func TestLoadData(t *testing.T) {
	t.Parallel()
	plan, err := loader.LoadData([]byte(demo))
	require.NoError(t, err)

	assert.Equal(t, "demo", plan.Name)
	assert.True(t, plan.SkipStages.Has(core.StageCleanup))
	assert.EqualValues(t, 3, plan.States["version"])

	t.Run("Hosts", func(t *testing.T) {
		web1 := plan.Hosts["web1"]
		assert.Equal(t, core.HostSSH, web1.Kind)
		assert.Equal(t, "deploy", web1.User)
		assert.Equal(t, "22", web1.Port)

		web2 := plan.Hosts["web2"]
		assert.Equal(t, "10.0.0.2", web2.Hostname)
		assert.Equal(t, "2222", web2.Port)
		assert.Equal(t, "~/.ssh/web", web2.Key)

		assert.Equal(t, core.HostLocal, plan.Hosts["db"].Kind)
		assert.Equal(t, core.HostContainer, plan.Hosts["box"].Kind)
		assert.Equal(t, "app", plan.Hosts["box"].Container)
	})

	t.Run("Roles", func(t *testing.T) {
		require.Len(t, plan.Roles, 2)
		db, web := plan.Roles[0], plan.Roles[1]
		assert.Equal(t, "db", db.Name)
		assert.Equal(t, []string{"db"}, db.Hosts)
		require.Len(t, db.Setup, 1)
		assert.Equal(t, "loop", db.Setup[0].Name)
		assert.Equal(t, map[string]any{"target": "prod"}, db.Setup[0].With)
		assert.Equal(t, []core.ScriptRef{{Name: "prepare"}}, web.Run)
	})

	t.Run("Commands", func(t *testing.T) {
		prepare := plan.Scripts["prepare"].Children()
		require.Len(t, prepare, 2)
		assert.Equal(t, engine.KindShell, prepare[0].Kind())
		require.Len(t, prepare[0].Timers(), 1)
		assert.Equal(t, 1500*time.Millisecond, prepare[0].Timers()[0].After)
		assert.Equal(t, "still updating", prepare[0].Timers()[0].Commands()[0].Arg())

		migrate := plan.Scripts["migrate"].Children()
		require.Len(t, migrate, 3)
		assert.Equal(t, "wait-for: ready", migrate[0].String())
		require.Len(t, migrate[2].Else(), 1)
		assert.Equal(t, engine.KindAbort, migrate[2].Else()[0].Kind())

		loop := plan.Scripts["loop"].Children()[0]
		assert.True(t, loop.IsLoop())
		assert.Equal(t, engine.KindEcho, loop.Children()[0].Kind())
	})

	t.Run("CountedSignals", func(t *testing.T) {
		assert.Equal(t, map[string]int{"ready": 2}, plan.Signals)
	})
}

func TestLoadData_Merge(t *testing.T) {
	t.Parallel()
	override := `
scripts:
  prepare:
    - sh: yum update
hosts:
  web3: local
roles:
  web:
    hosts: [web1, web2, web3]
    run-scripts: [prepare]
signals:
  ready: 1
`
	plan, err := loader.LoadData([]byte(demo), []byte(override))
	require.NoError(t, err)

	assert.Equal(t, "demo", plan.Name)
	assert.Equal(t, "sh: yum update", plan.Scripts["prepare"].Children()[0].String())
	assert.Contains(t, plan.Hosts, "web3")
	assert.Contains(t, plan.Hosts, "web1")
	assert.Equal(t, []string{"web1", "web2", "web3"}, plan.Roles[1].Hosts)
	assert.Equal(t, 1, plan.Signals["ready"], "explicit counts win over counted ones")
}

func TestLoadData_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		is   error
	}{
		{name: "UnknownKind", doc: "scripts:\n  a:\n    - frobnicate: x\n"},
		{name: "TwoKinds", doc: "scripts:\n  a:\n    - sh: x\n      echo: y\n"},
		{name: "UnknownField", doc: "rolez: {}\n"},
		{name: "BadFlag", doc: "scripts:\n  a:\n    - sh: x\n      async: maybe\n"},
		{name: "BadStage", doc: "skip-stages: [later]\n", is: core.ErrUnknownStage},
		{name: "UnknownHost", doc: "roles:\n  web:\n    hosts: [ghost]\n", is: core.ErrUnknownHost},
		{name: "UnknownScript", doc: "hosts: {a: local}\nroles:\n  web:\n    hosts: [a]\n    run-scripts: [nope]\n", is: core.ErrScriptNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.LoadData([]byte(tt.doc))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	_, err := loader.LoadData()
	assert.ErrorIs(t, err, loader.ErrNoInput)
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "herd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(demo), 0o600))

	plan, err := loader.Load(path)
	require.NoError(t, err)
	assert.Len(t, plan.Scripts, 3)

	_, err = loader.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Glob(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "env", "prod"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(demo), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "env", "prod", "name.yaml"), []byte("name: prod\n"), 0o600))

	plan, err := loader.Load(filepath.Join(dir, "base.yaml"), filepath.Join(dir, "env", "**", "*.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "prod", plan.Name)
	assert.Len(t, plan.Scripts, 3)

	_, err = loader.Load(filepath.Join(dir, "nothing", "*.yaml"))
	assert.ErrorIs(t, err, loader.ErrNoMatch)
}

func TestCountSignals(t *testing.T) {
	t.Parallel()
	doc := `
scripts:
  a:
    - signal: go
    - script: b
  b:
    - signal: go
    - signal: ${{name}}
    - script: a
  c:
    - set-signal: manual 2
    - signal: manual
hosts: {h1: local, h2: local, h3: local}
roles:
  r1:
    hosts: [h1, h2]
    run-scripts: [a]
  r2:
    hosts: [h3]
    run-scripts: [c]
`
	plan, err := loader.LoadData([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"go": 4}, loader.CountSignals(plan))
}
