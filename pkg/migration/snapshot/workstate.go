package snapshot

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ProjectState is the per-git-project portion of the work state
// manifest: enough to reconstruct a working tree on the target via
// clone + checkout + patch, without shipping the .git directory itself.
type ProjectState struct {
	RelativePath     string   `json:"relativePath"`
	RemoteURL        string   `json:"remoteUrl"`
	Branch           string   `json:"branch"`
	CommitSHA        string   `json:"commitSha"`
	UncommittedPatch *string  `json:"uncommittedPatch"`
	UntrackedFiles   []string `json:"untrackedFiles"`
}

// WorkState is the full manifest: one ProjectState per git-repo subdirectory
// of the agent's work root. Non-git subdirectories are skipped.
type WorkState struct {
	Projects []ProjectState `json:"projects"`
}

// CaptureWorkState scans the immediate subdirectories of workRoot and
// captures a ProjectState for each one that is a git repository.
func CaptureWorkState(workRoot string) (WorkState, error) {
	entries, err := os.ReadDir(workRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return WorkState{}, nil
		}
		return WorkState{}, err
	}

	ws := WorkState{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(workRoot, entry.Name())
		if !isGitRepo(dir) {
			continue
		}
		ps, err := captureProject(dir, entry.Name())
		if err != nil {
			// A project whose git metadata can't be read is dropped from the
			// manifest rather than failing the whole snapshot; rehydrate on
			// the target simply won't have it to restore.
			continue
		}
		ws.Projects = append(ws.Projects, ps)
	}
	return ws, nil
}

func isGitRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// runGit runs git in dir and returns trimmed stdout, with stderr folded into
// the error on failure.
func runGit(dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", &gitError{msg}
	}
	return strings.TrimSpace(stdout.String()), nil
}

type gitError struct{ msg string }

func (e *gitError) Error() string { return e.msg }

func captureProject(dir, relativePath string) (ProjectState, error) {
	branch, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ProjectState{}, err
	}
	commitSHA, err := runGit(dir, "rev-parse", "HEAD")
	if err != nil {
		return ProjectState{}, err
	}
	remoteURL, _ := runGit(dir, "remote", "get-url", "origin")

	ps := ProjectState{
		RelativePath: relativePath,
		RemoteURL:    remoteURL,
		Branch:       branch,
		CommitSHA:    commitSHA,
	}

	if patch, err := runGit(dir, "diff", "HEAD"); err == nil && patch != "" {
		ps.UncommittedPatch = &patch
	}

	if status, err := runGit(dir, "status", "--porcelain", "--untracked-files=all"); err == nil {
		ps.UntrackedFiles = parseUntracked(status)
	}

	return ps, nil
}

// parseUntracked extracts the file list from `git status --porcelain`
// entries whose index+worktree status is "??" (untracked).
func parseUntracked(porcelain string) []string {
	var files []string
	for _, line := range strings.Split(porcelain, "\n") {
		if len(line) < 3 {
			continue
		}
		if strings.HasPrefix(line, "??") {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files
}
