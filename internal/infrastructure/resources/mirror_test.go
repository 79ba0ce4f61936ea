package resources

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyCreatesParentsAndKeepsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "run.sh")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\necho hi\n"), 0o755))
	dst := filepath.Join(dir, "target", "classes", "scripts", "run.sh")

	require.NoError(t, NewMirror(zerolog.Nop()).Copy(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(data))
	if runtime.GOOS != "windows" {
		info, err := os.Stat(dst)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
}

func TestCopyOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.properties")
	dst := filepath.Join(dir, "out", "a.properties")
	m := NewMirror(zerolog.Nop())

	require.NoError(t, os.WriteFile(src, []byte("v=1"), 0o644))
	require.NoError(t, m.Copy(src, dst))
	require.NoError(t, os.WriteFile(src, []byte("v=2"), 0o644))
	require.NoError(t, m.Copy(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "v=2", string(data))

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestCopyDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "META-INF")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "services"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "services", "x"), []byte("impl"), 0o644))

	dst := filepath.Join(dir, "target", "META-INF")
	require.NoError(t, NewMirror(zerolog.Nop()).Copy(src, dst))

	assert.FileExists(t, filepath.Join(dst, "services", "x"))
}

func TestCopyMissingSource(t *testing.T) {
	err := NewMirror(zerolog.Nop()).Copy(filepath.Join(t.TempDir(), "none"), filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "target", "classes", "demo")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "a.txt"), []byte("a"), 0o644))
	m := NewMirror(zerolog.Nop())

	require.NoError(t, m.Remove(nested))
	assert.NoDirExists(t, nested)

	assert.NoError(t, m.Remove(filepath.Join(dir, "never-existed")))
}
