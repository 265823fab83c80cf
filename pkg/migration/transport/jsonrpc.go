package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/migration/snapshot"
)

// rpcRequest and rpcResponse are the standard JSON-RPC 2.0 envelope,
// used here for the migration/* method family exchanged between nodes
// rather than the per-agent A2A message surface.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// HTTPJSONRPC is the production Transport: it wraps each call in a
// `migration/*` JSON-RPC 2.0 request against the target node's base URL.
// Archives cross the wire as base64 inside the request params, matching
// the production payload shape for transfer-and-verify and rehydrate.
type HTTPJSONRPC struct {
	BaseURL    string
	GatewayKey string
	Client     *http.Client
}

// NewHTTPJSONRPC constructs a transport bound to a target node's base URL
// (e.g. "https://node-2.flock.internal/flock").
func NewHTTPJSONRPC(baseURL, gatewayKey string) *HTTPJSONRPC {
	return &HTTPJSONRPC{
		BaseURL:    baseURL,
		GatewayKey: gatewayKey,
		Client:     &http.Client{Timeout: 5 * time.Minute},
	}
}

// endpoint is the migration RPC URL under the target's base path.
func (h *HTTPJSONRPC) endpoint() string {
	u := h.BaseURL
	for len(u) > 0 && u[len(u)-1] == '/' {
		u = u[:len(u)-1]
	}
	return u + "/migration"
}

func (h *HTTPJSONRPC) call(ctx context.Context, method string, params any, out any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return flockerr.Wrap(flockerr.Internal, "jsonrpc_marshal", "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint(), bytes.NewReader(body))
	if err != nil {
		return flockerr.Wrap(flockerr.Internal, "jsonrpc_new_request", "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.GatewayKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.GatewayKey)
	}

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return flockerr.Wrap(flockerr.NetworkTimeout, "jsonrpc_dispatch", "migration RPC "+method+" failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return flockerr.Wrap(flockerr.NetworkTimeout, "jsonrpc_read_body", "failed to read RPC response", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return flockerr.Wrap(flockerr.NetworkTimeout, "jsonrpc_decode", "malformed RPC response for "+method, err)
	}
	if rpcResp.Error != nil {
		return flockerr.New(flockerr.NetworkTimeout, "jsonrpc_remote_error",
			fmt.Sprintf("migration RPC %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return flockerr.Wrap(flockerr.Internal, "jsonrpc_result_decode", "failed to decode RPC result for "+method, err)
	}
	return nil
}

func (h *HTTPJSONRPC) NotifyRequest(ctx context.Context, params NotifyRequestParams) (NotifyRequestResult, error) {
	var out NotifyRequestResult
	err := h.call(ctx, "migration/request", params, &out)
	return out, err
}

// wireTransferAndVerify is the base64-archive wire shape for
// migration/transfer-and-verify.
type wireTransferAndVerify struct {
	MigrationID string `json:"migrationId"`
	Archive     string `json:"archive"`
	Checksum    string `json:"checksum"`
}

func (h *HTTPJSONRPC) TransferAndVerify(ctx context.Context, params TransferAndVerifyParams) (snapshot.VerifyResult, error) {
	wire := wireTransferAndVerify{
		MigrationID: params.MigrationID,
		Archive:     base64.StdEncoding.EncodeToString(params.Archive),
		Checksum:    params.Checksum,
	}
	var out snapshot.VerifyResult
	err := h.call(ctx, "migration/transfer-and-verify", wire, &out)
	return out, err
}

// wireRehydrate mirrors RehydrateParams but with the archive re-sent as
// base64 rather than a file path, since the target has its own tmp
// staging directory.
type wireRehydrate struct {
	MigrationID    string             `json:"migrationId"`
	AgentID        string             `json:"agentId"`
	Archive        string             `json:"archive"`
	Checksum       string             `json:"checksum"`
	SizeBytes      int64              `json:"sizeBytes"`
	AgentIdentity  *string            `json:"agentIdentity"`
	WorkState      snapshot.WorkState `json:"workState"`
	TargetHomePath string             `json:"targetHomePath"`
	TargetWorkDir  string             `json:"targetWorkDir"`
}

func (h *HTTPJSONRPC) Rehydrate(ctx context.Context, params RehydrateParams) (snapshot.RehydrateResult, error) {
	archiveBytes, err := archiveBytesFromPath(params.Payload.ArchivePath)
	if err != nil {
		return snapshot.RehydrateResult{}, flockerr.Wrap(flockerr.LocalIO, "rehydrate_read_archive", "failed to read archive for transfer", err)
	}

	wire := wireRehydrate{
		MigrationID:    params.MigrationID,
		AgentID:        params.AgentID,
		Archive:        base64.StdEncoding.EncodeToString(archiveBytes),
		Checksum:       params.Payload.Checksum,
		SizeBytes:      params.Payload.SizeBytes,
		AgentIdentity:  params.Payload.AgentIdentity,
		WorkState:      params.Payload.WorkState,
		TargetHomePath: params.TargetHomePath,
		TargetWorkDir:  params.TargetWorkDir,
	}
	var out snapshot.RehydrateResult
	err = h.call(ctx, "migration/rehydrate", wire, &out)
	return out, err
}
