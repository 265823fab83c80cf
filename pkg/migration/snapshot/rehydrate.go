package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/flock-run/flock/pkg/flockerr"
)

// maxRehydrateFileSize caps a single extracted file, guarding against a
// decompression bomb inflating far past the 4 GiB portable cap.
const maxRehydrateFileSize = MaxPortableSizeBytes

// MigrationPayload is everything the target needs to stage and rehydrate
// a migrated agent. AgentIdentity is nil in central topology.
type MigrationPayload struct {
	ArchivePath   string    `json:"archivePath"`
	Checksum      string    `json:"checksum"`
	SizeBytes     int64     `json:"sizeBytes"`
	AgentIdentity *string   `json:"agentIdentity"`
	WorkState     WorkState `json:"workState"`
}

// RehydrateResult reports extraction success and any partial-success
// warnings (e.g. a work-state project skipped for path traversal).
type RehydrateResult struct {
	Success     bool      `json:"success"`
	HomePath    string    `json:"homePath"`
	Warnings    []string  `json:"warnings,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Rehydrate verifies payload's archive against its checksum, extracts it
// into targetHomePath, then restores each work-state project into
// targetWorkPath via clone + checkout + patch apply. A project whose
// relativePath would escape targetWorkPath is skipped with a warning; the
// remainder of the rehydrate proceeds (partial success).
func Rehydrate(payload MigrationPayload, targetHomePath, targetWorkPath string) RehydrateResult {
	done := func(r RehydrateResult) RehydrateResult {
		r.HomePath = targetHomePath
		r.CompletedAt = time.Now().UTC()
		return r
	}

	verify := VerifySnapshot(payload.ArchivePath, payload.Checksum)
	if !verify.Verified {
		return done(RehydrateResult{Success: false, Error: string(verify.FailureReason)})
	}

	if err := os.MkdirAll(targetHomePath, 0o755); err != nil {
		return done(RehydrateResult{Success: false, Error: "rehydrate_failure: " + err.Error()})
	}
	if err := extractArchive(payload.ArchivePath, targetHomePath); err != nil {
		return done(RehydrateResult{Success: false, Error: "rehydrate_failure: " + err.Error()})
	}

	result := RehydrateResult{Success: true}
	for _, proj := range payload.WorkState.Projects {
		if warning, err := restoreProject(proj, targetWorkPath); err != nil {
			result.Warnings = append(result.Warnings, warning)
		}
	}
	return done(result)
}

// extractArchive decompresses and extracts a gzip'd tar stream into destDir,
// rejecting any entry whose name would escape destDir.
func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return flockerr.Wrap(flockerr.RehydrateFailure, "rehydrate_open_archive", "failed to open archive", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return flockerr.Wrap(flockerr.RehydrateFailure, "rehydrate_gzip", "failed to read gzip stream", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return flockerr.Wrap(flockerr.RehydrateFailure, "rehydrate_tar", "tar read error", err)
		}
		if err := extractEntry(tr, header, destDir); err != nil {
			return err
		}
	}
}

func extractEntry(tr *tar.Reader, header *tar.Header, destDir string) error {
	cleanName, err := sanitizePath(header.Name, destDir)
	if err != nil {
		return flockerr.Wrap(flockerr.PathTraversal, "rehydrate_path_traversal", "archive entry escapes target", err)
	}

	target := filepath.Join(destDir, cleanName)
	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(header.Mode))
	case tar.TypeReg:
		return writeEntryFile(tr, target, os.FileMode(header.Mode))
	case tar.TypeSymlink:
		linkTarget := filepath.Join(filepath.Dir(target), header.Linkname)
		if !strings.HasPrefix(filepath.Clean(linkTarget), filepath.Clean(destDir)) {
			return flockerr.New(flockerr.PathTraversal, "rehydrate_symlink_traversal",
				fmt.Sprintf("symlink %s -> %s escapes target home", header.Name, header.Linkname))
		}
		_ = os.Remove(target)
		return os.Symlink(header.Linkname, target)
	default:
		return nil
	}
}

func writeEntryFile(tr *tar.Reader, target string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, io.LimitReader(tr, maxRehydrateFileSize))
	return err
}

// sanitizePath prevents path traversal: the cleaned name must not start with
// ".." or "/", and the resulting join must stay within destDir.
func sanitizePath(name, destDir string) (string, error) {
	cleanName := filepath.Clean(name)
	if strings.HasPrefix(cleanName, "..") || strings.HasPrefix(cleanName, "/") {
		return "", fmt.Errorf("invalid entry path: %s", name)
	}
	absTarget := filepath.Join(destDir, cleanName)
	cleanDest := filepath.Clean(destDir)
	if absTarget != cleanDest && !strings.HasPrefix(absTarget, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %s would escape target directory", name)
	}
	return cleanName, nil
}

// restoreProject resolves proj.RelativePath against targetWorkPath,
// rejects it outright if the canonical join escapes targetWorkPath, and
// otherwise clones, checks out the captured commit, and applies the
// uncommitted patch if any.
func restoreProject(proj ProjectState, targetWorkPath string) (warning string, err error) {
	dest := filepath.Join(targetWorkPath, proj.RelativePath)
	cleanTarget := filepath.Clean(targetWorkPath)
	cleanDest := filepath.Clean(dest)
	if cleanDest != cleanTarget && !strings.HasPrefix(cleanDest, cleanTarget+string(os.PathSeparator)) {
		msg := fmt.Sprintf("path traversal detected in work-state project %q, skipping", proj.RelativePath)
		return msg, flockerr.New(flockerr.PathTraversal, "rehydrate_workstate_traversal", msg)
	}

	if proj.RemoteURL == "" {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(cleanDest), 0o755); err != nil {
		return fmt.Sprintf("failed to prepare %q: %v", proj.RelativePath, err), err
	}
	if _, err := runGit(targetWorkPath, "clone", proj.RemoteURL, cleanDest); err != nil {
		return fmt.Sprintf("clone failed for %q: %v", proj.RelativePath, err), err
	}
	if proj.CommitSHA != "" {
		if _, err := runGit(cleanDest, "checkout", proj.CommitSHA); err != nil {
			return fmt.Sprintf("checkout failed for %q: %v", proj.RelativePath, err), err
		}
	}
	if proj.UncommittedPatch != nil && *proj.UncommittedPatch != "" {
		if err := applyPatch(cleanDest, *proj.UncommittedPatch); err != nil {
			return fmt.Sprintf("patch apply failed for %q: %v", proj.RelativePath, err), err
		}
	}
	return "", nil
}

func applyPatch(dir, patch string) error {
	cmd := exec.Command("git", "apply", "-")
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(patch)
	return cmd.Run()
}

// Checksum is exposed so callers computing a checksum outside of
// CreateSnapshot (e.g. after receiving bytes over the wire) use the same
// streaming algorithm.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
