package snapshot

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func gitIn(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runGit(dir, args...)
	require.NoError(t, err, "git %v", args)
	return out
}

// initRepo creates a git repo with one committed file and returns its HEAD
// commit.
func initRepo(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	gitIn(t, dir, "init", "-q")
	gitIn(t, dir, "config", "user.email", "flock@example.com")
	gitIn(t, dir, "config", "user.name", "flock")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	gitIn(t, dir, "add", ".")
	gitIn(t, dir, "commit", "-q", "-m", "initial")
	return gitIn(t, dir, "rev-parse", "HEAD")
}

func TestCaptureWorkStateMissingRootIsEmpty(t *testing.T) {
	ws, err := CaptureWorkState(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, ws.Projects)
}

func TestCaptureWorkStateSkipsNonGitSubdirectories(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scratch"), 0o755))
	initRepo(t, filepath.Join(root, "my-project"))

	ws, err := CaptureWorkState(root)
	require.NoError(t, err)
	require.Len(t, ws.Projects, 1)
	assert.Equal(t, "my-project", ws.Projects[0].RelativePath)
}

func TestCaptureWorkStateRecordsCommitAndBranch(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	head := initRepo(t, filepath.Join(root, "my-project"))

	ws, err := CaptureWorkState(root)
	require.NoError(t, err)
	require.Len(t, ws.Projects, 1)

	p := ws.Projects[0]
	assert.Equal(t, head, p.CommitSHA)
	assert.NotEmpty(t, p.Branch)
	assert.Nil(t, p.UncommittedPatch)
	assert.Empty(t, p.UntrackedFiles)
}

func TestCaptureWorkStateCapturesUncommittedPatchAndUntracked(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	dir := filepath.Join(root, "my-project")
	initRepo(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("untracked"), 0o644))

	ws, err := CaptureWorkState(root)
	require.NoError(t, err)
	require.Len(t, ws.Projects, 1)

	p := ws.Projects[0]
	require.NotNil(t, p.UncommittedPatch)
	assert.Contains(t, *p.UncommittedPatch, "func main()")
	assert.Equal(t, []string{"notes.txt"}, p.UntrackedFiles)
}

func TestParseUntracked(t *testing.T) {
	porcelain := "?? notes.txt\n M main.go\n?? docs/plan.md"
	assert.Equal(t, []string{"notes.txt", "docs/plan.md"}, parseUntracked(porcelain))
}
