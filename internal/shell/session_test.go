package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/herd/internal/core"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec string
		want any
	}{
		{"local", &LocalSession{}},
		{"container://web", &ContainerSession{}},
		{"deploy@example.com:2222", &SSHSession{}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			host, err := core.ParseHost("", tt.spec)
			require.NoError(t, err)
			s, err := New(host, Config{})
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
			assert.Equal(t, host, s.Host())
			assert.False(t, s.IsOpen())
		})
	}
}

func TestClosedSessionRefusesCommands(t *testing.T) {
	t.Parallel()
	host, err := core.ParseHost("web", "deploy@example.com")
	require.NoError(t, err)

	for _, s := range []Session{NewSSH(host, Config{}), NewLocal(core.Host{Kind: core.HostLocal}, Config{})} {
		_, err := s.Run(context.Background(), "true", nil)
		assert.ErrorIs(t, err, core.ErrSessionClosed)
		assert.ErrorIs(t, s.Interrupt(), core.ErrSessionClosed)
		assert.NoError(t, s.Close())
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	assert.Equal(t, defaultTimeout, cfg.timeout())
	assert.Equal(t, defaultShell, cfg.shell(""))
	assert.Equal(t, "/bin/bash", cfg.shell("/bin/bash"))

	cfg.Shell = "/bin/zsh"
	assert.Equal(t, "/bin/zsh", cfg.shell(""))
}

func TestResolveKeyPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	path, err := resolveKeyPath(core.Host{Key: dir + "/host_key"}, Config{Key: dir + "/default"})
	require.NoError(t, err)
	assert.Equal(t, dir+"/host_key", path)

	path, err = resolveKeyPath(core.Host{Password: "secret"}, Config{Key: dir + "/default"})
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = resolveKeyPath(core.Host{}, Config{Key: dir + "/default"})
	require.NoError(t, err)
	assert.Equal(t, dir+"/default", path)
}

func TestHostKeyCallbackInsecure(t *testing.T) {
	t.Parallel()
	cb, err := hostKeyCallback(false, "")
	require.NoError(t, err)
	assert.NotNil(t, cb)

	_, err = hostKeyCallback(true, t.TempDir()+"/missing")
	assert.Error(t, err)
}
