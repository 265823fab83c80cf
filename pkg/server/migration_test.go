package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flock-run/flock/pkg/migration"
)

func postRPC(t *testing.T, srv *Server, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/migration", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var reply map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("response is not valid JSON: %v (body=%s)", err, rec.Body.String())
	}
	return reply
}

func TestHandleMigrationRPCMalformedJSONReturnsParseError(t *testing.T) {
	srv := New(nil, migration.NewReceiver(migration.NewTicketStore(), t.TempDir()), "")
	reply := postRPC(t, srv, "{not json")

	errBody, ok := reply["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error body, got %+v", reply)
	}
	if int(errBody["code"].(float64)) != -32700 {
		t.Errorf("code = %v, want -32700 (parse error)", errBody["code"])
	}
}

func TestHandleMigrationRPCUnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv := New(nil, migration.NewReceiver(migration.NewTicketStore(), t.TempDir()), "")
	reply := postRPC(t, srv, `{"jsonrpc":"2.0","id":"1","method":"migration/bogus","params":{}}`)

	errBody := reply["error"].(map[string]any)
	if int(errBody["code"].(float64)) != -32601 {
		t.Errorf("code = %v, want -32601 (method not found)", errBody["code"])
	}
}

func TestHandleMigrationRPCNoReceiverRejectsInboundMigrations(t *testing.T) {
	srv := New(nil, nil, "")
	reply := postRPC(t, srv, `{"jsonrpc":"2.0","id":"1","method":"migration/request","params":{}}`)

	errBody := reply["error"].(map[string]any)
	if int(errBody["code"].(float64)) != -32603 {
		t.Errorf("code = %v, want -32603 (internal error)", errBody["code"])
	}
}

// TestHandleMigrationRPCDuplicateMigrationMapsToDomainErrorCode mirrors
// scenario S3 at the wire boundary: a second migration/request for an
// agent that already has an active ticket on this node comes back as
// JSON-RPC code -32001 with a message naming the conflict.
func TestHandleMigrationRPCDuplicateMigrationMapsToDomainErrorCode(t *testing.T) {
	tickets := migration.NewTicketStore()
	if err := tickets.Create(&migration.Ticket{MigrationID: "m1", AgentID: "worker-1"}); err != nil {
		t.Fatalf("seeding the first ticket: %v", err)
	}

	srv := New(nil, migration.NewReceiver(tickets, t.TempDir()), "")
	reply := postRPC(t, srv, `{"jsonrpc":"2.0","id":"2","method":"migration/request","params":{"migrationId":"m2","agentId":"worker-1","sourceNode":"node-b"}}`)

	errBody, ok := reply["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error body for a duplicate migration, got %+v", reply)
	}
	if int(errBody["code"].(float64)) != -32001 {
		t.Errorf("code = %v, want -32001 (domain error)", errBody["code"])
	}
	msg, _ := errBody["message"].(string)
	if !bytes.Contains([]byte(msg), []byte("already has an active migration")) {
		t.Errorf("message = %q, want it to mention an active migration already existing", msg)
	}
}

func TestHandleMigrationRPCRequestAcceptsFirstMigration(t *testing.T) {
	srv := New(nil, migration.NewReceiver(migration.NewTicketStore(), t.TempDir()), "")
	reply := postRPC(t, srv, `{"jsonrpc":"2.0","id":"1","method":"migration/request","params":{"migrationId":"m1","agentId":"worker-1","sourceNode":"node-a"}}`)

	if _, hasErr := reply["error"]; hasErr {
		t.Fatalf("expected no error on a fresh migration request, got %+v", reply)
	}
	result, ok := reply["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected a result object, got %+v", reply)
	}
	if accepted, _ := result["accepted"].(bool); !accepted {
		t.Error("expected accepted=true for a fresh migration request")
	}
}
