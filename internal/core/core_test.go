package core_test

import (
	"testing"

	"github.com/dagucloud/herd/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHost(t *testing.T) {
	tests := []struct {
		spec string
		want core.Host
	}{
		{"local", core.Host{Alias: "a", Kind: core.HostLocal}},
		{"container://db", core.Host{Alias: "a", Kind: core.HostContainer, Container: "db"}},
		{"bob@example.com:2222", core.Host{Alias: "a", Kind: core.HostSSH, User: "bob", Hostname: "example.com", Port: "2222"}},
		{"example.com", core.Host{Alias: "a", Kind: core.HostSSH, Hostname: "example.com", Port: "22"}},
	}
	for _, tc := range tests {
		t.Run(tc.spec, func(t *testing.T) {
			got, err := core.ParseHost("a", tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := core.ParseHost("a", "container://")
	assert.ErrorIs(t, err, core.ErrInvalidHost)
}

func TestHostString(t *testing.T) {
	h := core.Host{Kind: core.HostSSH, User: "bob", Hostname: "example.com", Port: "22"}
	assert.Equal(t, "bob@example.com:22", h.String())
	assert.Equal(t, "bob@example.com:22", h.Name())
	h.Alias = "server"
	assert.Equal(t, "server", h.Name())
}

func TestStageOrder(t *testing.T) {
	assert.Equal(t, []core.Stage{core.StagePreSetup, core.StageSetup, core.StageRun, core.StageCleanup}, core.Stages)
	for i := 1; i < len(core.Stages); i++ {
		assert.Less(t, core.Stages[i-1], core.Stages[i])
	}
}

func TestParseStageSet(t *testing.T) {
	set, err := core.ParseStageSet([]string{"Setup", "pre-setup"})
	require.NoError(t, err)
	assert.True(t, set.Has(core.StageSetup))
	assert.True(t, set.Has(core.StagePreSetup))
	assert.False(t, set.Has(core.StageRun))

	_, err = core.ParseStageSet([]string{"teardown"})
	assert.ErrorIs(t, err, core.ErrUnknownStage)
}
