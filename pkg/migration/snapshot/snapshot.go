// Package snapshot builds and verifies the portable archive exchanged
// during a migration: a gzip-compressed tarball of the agent's home
// directory, checksummed with a streaming SHA-256.
package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flock-run/flock/pkg/flockerr"
)

// MaxPortableSizeBytes is MAX_PORTABLE_SIZE_BYTES: the hard cap on a
// migration's portable archive.
const MaxPortableSizeBytes int64 = 4 << 30 // 4 GiB

// Portable is the result of creating a snapshot archive.
type Portable struct {
	ArchivePath string    `json:"archivePath"`
	Checksum    string    `json:"checksum"`
	SizeBytes   int64     `json:"sizeBytes"`
	WorkState   WorkState `json:"workState"`
}

// CreateSnapshot tars and gzips homePath into tmpDir/<migrationID>/portable.tar.gz,
// computing its checksum in the same streaming pass, and captures the work
// state manifest for homePath's project subdirectories.
func CreateSnapshot(homePath, migrationID, tmpDir string) (*Portable, error) {
	stagingDir := filepath.Join(tmpDir, migrationID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, flockerr.Wrap(flockerr.LocalIO, "snapshot_staging_mkdir", "failed to create staging directory", err)
	}

	archivePath := filepath.Join(stagingDir, "portable.tar.gz")
	sizeBytes, checksum, err := archiveAndChecksum(homePath, archivePath)
	if err != nil {
		return nil, err
	}

	if sizeBytes > MaxPortableSizeBytes {
		_ = os.Remove(archivePath)
		return nil, flockerr.New(flockerr.SizeExceeded, "SNAPSHOT_PORTABLE_SIZE_EXCEEDED",
			fmt.Sprintf("portable archive is %d bytes, exceeds cap of %d bytes", sizeBytes, MaxPortableSizeBytes))
	}

	ws, err := CaptureWorkState(homePath)
	if err != nil {
		return nil, err
	}

	return &Portable{
		ArchivePath: archivePath,
		Checksum:    checksum,
		SizeBytes:   sizeBytes,
		WorkState:   ws,
	}, nil
}

// archiveAndChecksum writes homePath as a gzip'd tar to archivePath while
// hashing the gzip output in the same pass, returning the final size and hex
// checksum without a second read of the archive.
func archiveAndChecksum(homePath, archivePath string) (int64, string, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return 0, "", flockerr.Wrap(flockerr.LocalIO, "snapshot_archive_create", "failed to create archive file", err)
	}
	defer out.Close()

	hasher := sha256.New()
	counter := &countingWriter{}
	mw := io.MultiWriter(out, hasher, counter)

	gw := gzip.NewWriter(mw)
	tw := tar.NewWriter(gw)

	walkErr := filepath.Walk(homePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(homePath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
	if walkErr != nil {
		return 0, "", flockerr.Wrap(flockerr.LocalIO, "snapshot_archive_write", "failed to write archive", walkErr)
	}

	if err := tw.Close(); err != nil {
		return 0, "", flockerr.Wrap(flockerr.LocalIO, "snapshot_archive_close", "failed to finalize tar stream", err)
	}
	if err := gw.Close(); err != nil {
		return 0, "", flockerr.Wrap(flockerr.LocalIO, "snapshot_archive_close", "failed to finalize gzip stream", err)
	}

	return counter.n, hex.EncodeToString(hasher.Sum(nil)), nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// VerificationFailure is the closed set of verifySnapshot failure reasons.
type VerificationFailure string

const (
	FailureChecksumMismatch    VerificationFailure = "CHECKSUM_MISMATCH"
	FailureSizeMismatch        VerificationFailure = "SIZE_MISMATCH"
	FailureArchiveCorrupt      VerificationFailure = "ARCHIVE_CORRUPT"
	FailureBaseVersionMismatch VerificationFailure = "BASE_VERSION_MISMATCH"
	FailureDiskFull            VerificationFailure = "DISK_FULL"
)

// VerifyResult is the outcome of re-verifying a received archive.
type VerifyResult struct {
	Verified         bool                `json:"verified"`
	FailureReason    VerificationFailure `json:"failureReason,omitempty"`
	ComputedChecksum string              `json:"computedChecksum,omitempty"`
	VerifiedAt       time.Time           `json:"verifiedAt"`
}

// VerifySnapshot recomputes archivePath's checksum in a streaming pass and
// compares it to expectedChecksum. A missing file, a stream error, or a
// malformed gzip/tar member is reported as ARCHIVE_CORRUPT.
func VerifySnapshot(archivePath, expectedChecksum string) VerifyResult {
	f, err := os.Open(archivePath)
	if err != nil {
		return VerifyResult{FailureReason: FailureArchiveCorrupt, VerifiedAt: time.Now().UTC()}
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		if isDiskFull(err) {
			return VerifyResult{FailureReason: FailureDiskFull, VerifiedAt: time.Now().UTC()}
		}
		return VerifyResult{FailureReason: FailureArchiveCorrupt, VerifiedAt: time.Now().UTC()}
	}

	if err := validateGzipTar(archivePath); err != nil {
		return VerifyResult{FailureReason: FailureArchiveCorrupt, VerifiedAt: time.Now().UTC()}
	}

	computed := hex.EncodeToString(hasher.Sum(nil))
	now := time.Now().UTC()
	if computed != expectedChecksum {
		return VerifyResult{Verified: false, FailureReason: FailureChecksumMismatch, ComputedChecksum: computed, VerifiedAt: now}
	}
	return VerifyResult{Verified: true, ComputedChecksum: computed, VerifiedAt: now}
}

// validateGzipTar does a cheap structural pass over the archive (gzip header
// decodes, tar headers parse) without materializing file contents, to catch
// truncated or corrupt archives that a checksum match alone wouldn't.
func validateGzipTar(archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		_, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func isDiskFull(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no space left on device")
}
