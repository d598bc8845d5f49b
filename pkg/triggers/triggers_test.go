package triggers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileForSystemRootIsUnsandboxed(t *testing.T) {
	p := ProfileFor(ScopeSystem, "/iso", "/etc", "/usr", true)
	assert.False(t, p.Sandboxed)
}

func TestProfileForNonSystemRootIsSandboxed(t *testing.T) {
	p := ProfileFor(ScopeSystem, "/iso", "/etc", "/usr", false)
	assert.True(t, p.Sandboxed)

	var etcBind *Bind
	for i := range p.Binds {
		if p.Binds[i].Target == "/etc" {
			etcBind = &p.Binds[i]
		}
	}
	require.NotNil(t, etcBind)
	assert.False(t, etcBind.ReadOnly) // system scope always gets /etc read-write
}

func TestProfileForTransactionScopeEtcReadOnly(t *testing.T) {
	p := ProfileFor(ScopeTransaction, "/iso", "/etc", "/usr", true)
	assert.True(t, p.Sandboxed) // transaction scope always sandboxes, even on "/"

	var etcBind *Bind
	for i := range p.Binds {
		if p.Binds[i].Target == "/etc" {
			etcBind = &p.Binds[i]
		}
	}
	require.NotNil(t, etcBind)
	assert.True(t, etcBind.ReadOnly)
}

func TestExecuteRunDirectWhenUnsandboxed(t *testing.T) {
	r := NewRunner()
	cmd := Command{Kind: CommandRun, Program: "true"}
	err := r.Execute(cmd, Profile{Sandboxed: false})
	require.NoError(t, err)
}

func TestExecuteRunNonZeroExitDoesNotError(t *testing.T) {
	r := NewRunner()
	cmd := Command{Kind: CommandRun, Program: "false"}
	err := r.Execute(cmd, Profile{Sandboxed: false})
	require.NoError(t, err) // non-zero exit is logged, not propagated
}

func TestExecuteDeleteRemovesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "victim")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	r := NewRunner()
	cmd := Command{Kind: CommandDelete, Paths: []string{path}}
	require.NoError(t, r.Execute(cmd, Profile{Sandboxed: false}))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestBwrapArgsIncludesBindsAndCommand(t *testing.T) {
	r := NewRunner()
	profile := Profile{
		Sandboxed: true,
		Binds: []Bind{
			{Source: "/host/etc", Target: "/etc", ReadOnly: true},
			{Source: "/host/usr", Target: "/usr", ReadOnly: false},
		},
	}
	args := r.bwrapArgs(profile, Command{Program: "ldconfig", Args: []string{"-v"}})
	assert.Contains(t, args, "--ro-bind")
	assert.Contains(t, args, "/host/etc")
	assert.Contains(t, args, "--bind")
	assert.Contains(t, args, "ldconfig")
	assert.Contains(t, args, "-v")
	assert.Contains(t, args, "--unshare-net")
}
