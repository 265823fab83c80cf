// Package sqlstore is the disk-backed conforming implementation of
// pkg/store.Store, over database/sql with a dialect switch for sqlite,
// postgres, and mysql, following the UPSERT pattern used by
// github.com/a2aproject/a2a-go/a2asrv.TaskStore implementations. The
// sqlite dialect is the default, opened with WAL journaling and NORMAL
// synchronous mode for a durability/throughput balance suited to a
// single-node deployment.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/store"
)

// Dialect is one of the three SQL backends the store speaks.
type Dialect string

const (
	Sqlite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Store is the disk-backed aggregate Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens (or creates) the database at dataSourceName using driverName
// ("sqlite3", "postgres", "mysql") and returns a Store ready for Migrate.
func Open(driverName, dataSourceName string) (*Store, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName, err)
	}

	dialect := normalizeDialect(driverName)
	if dialect == Sqlite {
		db.SetMaxOpenConns(1) // single-writer file, avoid "database is locked"
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
		if _, err := db.Exec(`PRAGMA synchronous=NORMAL`); err != nil {
			return nil, fmt.Errorf("set synchronous mode: %w", err)
		}
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s database: %w", driverName, err)
	}

	return &Store{db: db, dialect: dialect}, nil
}

func normalizeDialect(driverName string) Dialect {
	switch driverName {
	case "sqlite3", "sqlite":
		return Sqlite
	case "postgres":
		return Postgres
	case "mysql":
		return MySQL
	default:
		return Sqlite
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Homes() store.HomeStore                     { return &homeStore{s} }
func (s *Store) Transitions() store.TransitionStore         { return &transitionStore{s} }
func (s *Store) Audit() store.AuditStore                    { return &auditStore{s} }
func (s *Store) Tasks() store.TaskStore                     { return &taskStore{s} }
func (s *Store) Channels() store.ChannelStore               { return &channelStore{s} }
func (s *Store) ChannelMessages() store.ChannelMessageStore { return &channelMessageStore{s} }
func (s *Store) AgentLoops() store.AgentLoopStore           { return &agentLoopStore{s} }
func (s *Store) Bridges() store.BridgeStore                 { return &bridgeStore{s} }

func (s *Store) Close() error { return s.db.Close() }

// ph returns the n-th positional placeholder for this dialect (1-based).
func (s *Store) ph(n int) string {
	if s.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// upsert builds "INSERT ... ON CONFLICT/DUPLICATE KEY ..." for the given
// table, PK column, and the remaining columns to upsert, dialect-switched.
func (s *Store) upsert(table, pk string, cols []string) string {
	allCols := append([]string{pk}, cols...)
	placeholders := make([]string, len(allCols))
	for i := range allCols {
		placeholders[i] = s.ph(i + 1)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinCols(allCols), joinStrs(placeholders))

	switch s.dialect {
	case Postgres:
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
		}
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", insert, pk, joinStrs(sets))
	case MySQL:
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", insert, joinStrs(sets))
	default: // sqlite
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		return fmt.Sprintf("%s ON CONFLICT(%s) DO UPDATE SET %s", insert, pk, joinStrs(sets))
	}
}

func joinCols(cols []string) string { return joinStrs(cols) }

func joinStrs(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// notFound wraps sql.ErrNoRows into the taxonomy's NotFound kind.
func notFound(code, msg string) error {
	return flockerr.New(flockerr.NotFound, code, msg)
}

// Migrate runs idempotent DDL bootstrap for every table this store owns.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS homes (
			home_id VARCHAR(255) PRIMARY KEY,
			agent_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state VARCHAR(32) NOT NULL,
			lease_expires_at TIMESTAMP,
			metadata_json TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_homes_node_id ON homes(node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_homes_state ON homes(state)`,
		`CREATE INDEX IF NOT EXISTS idx_homes_agent_id ON homes(agent_id)`,

		`CREATE TABLE IF NOT EXISTS home_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			home_id VARCHAR(255) NOT NULL,
			from_state VARCHAR(32) NOT NULL,
			to_state VARCHAR(32) NOT NULL,
			reason TEXT,
			triggered_by VARCHAR(255),
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_home_id ON home_transitions(home_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_timestamp ON home_transitions(timestamp)`,

		`CREATE TABLE IF NOT EXISTS audit_entries (
			id VARCHAR(255) PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			home_id VARCHAR(255),
			agent_id VARCHAR(255) NOT NULL,
			action VARCHAR(255) NOT NULL,
			level VARCHAR(16) NOT NULL,
			detail_json TEXT,
			result TEXT,
			duration_ns BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_agent_id ON audit_entries(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			task_id VARCHAR(255) PRIMARY KEY,
			context_id VARCHAR(255) NOT NULL,
			from_agent_id VARCHAR(255) NOT NULL,
			to_agent_id VARCHAR(255) NOT NULL,
			state VARCHAR(32) NOT NULL,
			message_type VARCHAR(64),
			summary TEXT,
			payload_json TEXT,
			response_text TEXT,
			response_payload_json TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_context_id ON tasks(context_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,

		`CREATE TABLE IF NOT EXISTS channels (
			channel_id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			topic TEXT,
			created_by VARCHAR(255),
			members_json TEXT,
			archived BOOLEAN NOT NULL DEFAULT 0,
			archive_ready_json TEXT,
			archiving_started_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS channel_messages (
			channel_id VARCHAR(255) NOT NULL,
			seq BIGINT NOT NULL,
			agent_id VARCHAR(255) NOT NULL,
			content TEXT,
			timestamp TIMESTAMP NOT NULL,
			PRIMARY KEY (channel_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS agent_loop_states (
			agent_id VARCHAR(255) PRIMARY KEY,
			state VARCHAR(16) NOT NULL,
			last_tick_at TIMESTAMP,
			awakened_at TIMESTAMP,
			slept_at TIMESTAMP,
			sleep_reason TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS bridges (
			bridge_id VARCHAR(255) PRIMARY KEY,
			channel_id VARCHAR(255) NOT NULL,
			platform VARCHAR(64) NOT NULL,
			external_channel_id VARCHAR(255) NOT NULL,
			webhook_url TEXT,
			active BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bridges_channel_id ON bridges(channel_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w (stmt: %s)", err, stmt)
		}
	}
	return nil
}
