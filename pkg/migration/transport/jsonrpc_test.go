package transport_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flock-run/flock/pkg/migration"
	"github.com/flock-run/flock/pkg/migration/snapshot"
	"github.com/flock-run/flock/pkg/migration/transport"
	"github.com/flock-run/flock/pkg/server"
)

// makeArchive builds a small valid tar.gz in memory and returns the bytes
// alongside their hex SHA-256.
func makeArchive(t *testing.T, name, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

// newTargetNode stands up a real HTTP listener serving the migration RPC
// family the way a genuinely remote node would, returning a wire transport
// pointed at it.
func newTargetNode(t *testing.T, tickets *migration.TicketStore, tmpDir string) (*transport.HTTPJSONRPC, *migration.Receiver) {
	t.Helper()
	receiver := migration.NewReceiver(tickets, tmpDir)
	srv := server.New(nil, receiver, "/flock")
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return transport.NewHTTPJSONRPC(ts.URL+"/flock", ""), receiver
}

func TestNotifyRequestOverTheWire(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTargetNode(t, migration.NewTicketStore(), t.TempDir())

	result, err := tr.NotifyRequest(ctx, transport.NotifyRequestParams{
		MigrationID: "m-1",
		AgentID:     "worker-1",
		SourceNode:  "node-a",
		TargetNode:  "node-b",
		Reason:      "agent_request",
	})
	require.NoError(t, err)
	assert.True(t, result.Accepted)
}

func TestNotifyRequestDuplicateAgentRejectedOverTheWire(t *testing.T) {
	ctx := context.Background()
	tickets := migration.NewTicketStore()
	require.NoError(t, tickets.Create(&migration.Ticket{MigrationID: "m-0", AgentID: "worker-1"}))
	tr, _ := newTargetNode(t, tickets, t.TempDir())

	_, err := tr.NotifyRequest(ctx, transport.NotifyRequestParams{
		MigrationID: "m-1",
		AgentID:     "worker-1",
		SourceNode:  "node-a",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has an active migration")
}

func TestTransferAndVerifyOverTheWire(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()
	tr, receiver := newTargetNode(t, migration.NewTicketStore(), tmpDir)

	archive, checksum := makeArchive(t, "SOUL.md", "I am worker-1")

	result, err := tr.TransferAndVerify(ctx, transport.TransferAndVerifyParams{
		MigrationID: "m-1",
		Archive:     archive,
		Checksum:    checksum,
	})
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, checksum, result.ComputedChecksum)

	// The archive is staged under <tmpDir>/<migrationId>/<migrationId>.tar.gz.
	_, statErr := os.Stat(receiver.StagingPath("m-1"))
	assert.NoError(t, statErr)
}

func TestTransferAndVerifyChecksumMismatchOverTheWire(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTargetNode(t, migration.NewTicketStore(), t.TempDir())

	archive, _ := makeArchive(t, "SOUL.md", "I am worker-1")

	result, err := tr.TransferAndVerify(ctx, transport.TransferAndVerifyParams{
		MigrationID: "m-1",
		Archive:     archive,
		Checksum:    "deadbeef",
	})
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, snapshot.FailureChecksumMismatch, result.FailureReason)
}

func TestRehydrateOverTheWire(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	targetTmp := filepath.Join(root, "staging")
	tr, _ := newTargetNode(t, migration.NewTicketStore(), targetTmp)

	archive, checksum := makeArchive(t, "SOUL.md", "I am worker-1")
	sourceArchive := filepath.Join(root, "portable.tar.gz")
	require.NoError(t, os.WriteFile(sourceArchive, archive, 0o600))

	targetHome := filepath.Join(root, "target-home")
	targetWork := filepath.Join(root, "target-work")
	result, err := tr.Rehydrate(ctx, transport.RehydrateParams{
		MigrationID: "m-1",
		AgentID:     "worker-1",
		Payload: snapshot.MigrationPayload{
			ArchivePath: sourceArchive,
			Checksum:    checksum,
			SizeBytes:   int64(len(archive)),
		},
		TargetHomePath: targetHome,
		TargetWorkDir:  targetWork,
	})
	require.NoError(t, err)
	require.True(t, result.Success, "rehydrate failed: %s", result.Error)
	assert.Equal(t, targetHome, result.HomePath)

	data, err := os.ReadFile(filepath.Join(targetHome, "SOUL.md"))
	require.NoError(t, err)
	assert.Equal(t, "I am worker-1", string(data))

	// The target's staging directory for this migration is purged after
	// rehydrate.
	_, statErr := os.Stat(filepath.Join(targetTmp, "m-1"))
	assert.True(t, os.IsNotExist(statErr))
}
