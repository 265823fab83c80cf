package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/migration"
	"github.com/flock-run/flock/pkg/migration/snapshot"
)

// MigrationRunFunc drives one full migration end to end, as `migration/run`
// exposes it over the wire. Boot assembly binds it to App.MigrateAgent.
type MigrationRunFunc func(ctx context.Context, agentID, targetNode string, reason migration.Reason) (migration.RunResult, error)

// WithMigrationAdmin attaches the engine-backed method family
// (approve/reject/complete/status/abort) and the end-to-end run driver.
// Without it the server still answers the receiver-backed methods
// (request, transfer, verify, transfer-and-verify, rehydrate).
func (s *Server) WithMigrationAdmin(engine *migration.Engine, run MigrationRunFunc) *Server {
	s.engine = engine
	s.runMigration = run
	return s
}

// rpcEnvelope is the standard JSON-RPC 2.0 request shape, matching
// pkg/migration/transport's HTTPJSONRPC client wire format exactly so a
// source node's outbound call lands directly on this handler.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcReply struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *rpcErrorBody `json:"error,omitempty"`
}

// idParams is the common single-migration-id request shape shared by
// approve, status, and the reason-carrying reject/abort variants.
type idParams struct {
	MigrationID string `json:"migrationId"`
	Reason      string `json:"reason"`
}

// handleMigrationRPC dispatches the server-level `migration/*` method
// family ahead of any per-agent JSON-RPC route.
func (s *Server) handleMigrationRPC(w http.ResponseWriter, r *http.Request) {
	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeRPCError(w, "", flockerr.JSONRPCParseError, "malformed JSON-RPC request: "+err.Error())
		return
	}

	if s.receiver == nil {
		writeRPCError(w, env.ID, flockerr.JSONRPCInternalError, "this node does not accept inbound migrations")
		return
	}

	ctx := r.Context()
	switch env.Method {
	case "migration/request":
		var params struct {
			MigrationID string `json:"migrationId"`
			AgentID     string `json:"agentId"`
			SourceNode  string `json:"sourceNode"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, err.Error())
			return
		}
		accepted, reason, err := s.receiver.HandleRequest(ctx, params.MigrationID, params.AgentID, params.SourceNode)
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCCode(err), err.Error())
			return
		}
		writeRPCResult(w, env.ID, map[string]any{"accepted": accepted, "error": reason})

	case "migration/approve":
		s.withEngine(w, env, func(eng *migration.Engine, p idParams) (any, error) {
			cur, err := eng.GetStatus(ctx, p.MigrationID)
			if err != nil {
				return nil, err
			}
			if cur.Phase != migration.PhaseRequested {
				return nil, flockerr.New(flockerr.InvalidTransition, "not_requested",
					"migration "+p.MigrationID+" is in phase "+string(cur.Phase)+", not REQUESTED")
			}
			return eng.AdvancePhase(ctx, p.MigrationID)
		})

	case "migration/reject":
		s.withEngine(w, env, func(eng *migration.Engine, p idParams) (any, error) {
			reason := p.Reason
			if reason == "" {
				reason = "rejected by peer"
			}
			return eng.Fail(ctx, p.MigrationID, reason)
		})

	case "migration/transfer":
		var params struct {
			MigrationID string `json:"migrationId"`
			Archive     string `json:"archive"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, err.Error())
			return
		}
		archive, err := base64.StdEncoding.DecodeString(params.Archive)
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, "archive is not valid base64")
			return
		}
		size, err := s.receiver.HandleTransfer(ctx, params.MigrationID, archive)
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCCode(err), err.Error())
			return
		}
		writeRPCResult(w, env.ID, map[string]any{"staged": true, "sizeBytes": size})

	case "migration/verify":
		var params struct {
			MigrationID string `json:"migrationId"`
			Checksum    string `json:"checksum"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, err.Error())
			return
		}
		result, err := s.receiver.HandleVerify(ctx, params.MigrationID, params.Checksum)
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCCode(err), err.Error())
			return
		}
		writeRPCResult(w, env.ID, result)

	case "migration/transfer-and-verify":
		var params struct {
			MigrationID string `json:"migrationId"`
			Archive     string `json:"archive"`
			Checksum    string `json:"checksum"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, err.Error())
			return
		}
		archive, err := base64.StdEncoding.DecodeString(params.Archive)
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, "archive is not valid base64")
			return
		}
		result, _, err := s.receiver.HandleTransferAndVerify(ctx, params.MigrationID, archive, params.Checksum)
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCCode(err), err.Error())
			return
		}
		writeRPCResult(w, env.ID, result)

	case "migration/rehydrate":
		var params struct {
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
		if err := json.Unmarshal(env.Params, &params); err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, err.Error())
			return
		}
		archive, err := base64.StdEncoding.DecodeString(params.Archive)
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, "archive is not valid base64")
			return
		}
		_, archivePath, err := s.receiver.HandleTransferAndVerify(ctx, params.MigrationID, archive, params.Checksum)
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCCode(err), err.Error())
			return
		}
		payload := snapshot.MigrationPayload{
			ArchivePath:   archivePath,
			Checksum:      params.Checksum,
			SizeBytes:     params.SizeBytes,
			AgentIdentity: params.AgentIdentity,
			WorkState:     params.WorkState,
		}
		result := s.receiver.HandleRehydrate(ctx, params.MigrationID, payload, params.TargetHomePath, params.TargetWorkDir)
		writeRPCResult(w, env.ID, result)

	case "migration/complete":
		var params struct {
			MigrationID string `json:"migrationId"`
			NewHomeID   string `json:"newHomeId"`
			NewEndpoint string `json:"newEndpoint"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, err.Error())
			return
		}
		if s.engine == nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInternalError, "migration administration is not configured on this node")
			return
		}
		ticket, err := s.engine.Complete(ctx, params.MigrationID, params.NewHomeID, params.NewEndpoint)
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCCode(err), err.Error())
			return
		}
		writeRPCResult(w, env.ID, ticket)

	case "migration/status":
		s.withEngine(w, env, func(eng *migration.Engine, p idParams) (any, error) {
			return eng.GetStatus(ctx, p.MigrationID)
		})

	case "migration/abort":
		s.withEngine(w, env, func(eng *migration.Engine, p idParams) (any, error) {
			reason := p.Reason
			if reason == "" {
				reason = "aborted by peer request"
			}
			return eng.Rollback(ctx, p.MigrationID, reason)
		})

	case "migration/run":
		var params struct {
			AgentID      string `json:"agentId"`
			TargetNodeID string `json:"targetNodeId"`
			Reason       string `json:"reason"`
		}
		if err := json.Unmarshal(env.Params, &params); err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, err.Error())
			return
		}
		if s.runMigration == nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCInternalError, "migration administration is not configured on this node")
			return
		}
		result, err := s.runMigration(ctx, params.AgentID, params.TargetNodeID, migration.Reason(params.Reason))
		if err != nil {
			writeRPCError(w, env.ID, flockerr.JSONRPCCode(err), err.Error())
			return
		}
		writeRPCResult(w, env.ID, result)

	default:
		writeRPCError(w, env.ID, flockerr.JSONRPCMethodNotFound, "unknown method "+env.Method)
	}
}

// withEngine handles the engine-backed methods that share the
// {migrationId, reason?} request shape.
func (s *Server) withEngine(w http.ResponseWriter, env rpcEnvelope, fn func(*migration.Engine, idParams) (any, error)) {
	var p idParams
	if err := json.Unmarshal(env.Params, &p); err != nil {
		writeRPCError(w, env.ID, flockerr.JSONRPCInvalidParams, err.Error())
		return
	}
	if s.engine == nil {
		writeRPCError(w, env.ID, flockerr.JSONRPCInternalError, "migration administration is not configured on this node")
		return
	}
	result, err := fn(s.engine, p)
	if err != nil {
		writeRPCError(w, env.ID, flockerr.JSONRPCCode(err), err.Error())
		return
	}
	writeRPCResult(w, env.ID, result)
}

func writeRPCResult(w http.ResponseWriter, id string, result any) {
	writeJSON(w, http.StatusOK, rpcReply{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id string, code int, message string) {
	writeJSON(w, http.StatusOK, rpcReply{JSONRPC: "2.0", ID: id, Error: &rpcErrorBody{Code: code, Message: message}})
}
