// Package boot wires every other package into one running node:
// config-in, fully-wired-server out, one log line per stage. It opens
// the store, builds the home/audit/registry/resolver fabric, constructs
// one executor per configured agent, registers each with the A2A
// server, and assembles the migration engine and scheduler on top.
package boot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"
	clientv3 "go.etcd.io/etcd/client/v3"

	flocka2a "github.com/flock-run/flock/pkg/a2a"
	flockclient "github.com/flock-run/flock/pkg/a2a/client"
	"github.com/flock-run/flock/pkg/audit"
	"github.com/flock-run/flock/pkg/executor"
	"github.com/flock-run/flock/pkg/flockconfig"
	"github.com/flock-run/flock/pkg/flockerr"
	"github.com/flock-run/flock/pkg/flocklog"
	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/home"
	"github.com/flock-run/flock/pkg/migration"
	"github.com/flock-run/flock/pkg/migration/transport"
	"github.com/flock-run/flock/pkg/observability"
	"github.com/flock-run/flock/pkg/registry"
	"github.com/flock-run/flock/pkg/resolver"
	"github.com/flock-run/flock/pkg/scheduler"
	"github.com/flock-run/flock/pkg/server"
	"github.com/flock-run/flock/pkg/session"
	"github.com/flock-run/flock/pkg/store"
	"github.com/flock-run/flock/pkg/store/memory"
	"github.com/flock-run/flock/pkg/store/sqlstore"
	"github.com/flock-run/flock/pkg/triage"
)

// App is a fully wired, running Flock node.
type App struct {
	Config *flockconfig.Config

	Store        store.Store
	Homes        *home.Manager
	Audit        *audit.Log
	Nodes        *registry.NodeRegistry
	Assignments  registry.AssignmentStore
	Resolver     resolver.Resolver
	A2AClient    *flockclient.Client
	Triage       *triage.Table
	Tickets      *migration.TicketStore
	Engine       *migration.Engine
	Guard        *migration.FrozenGuard
	Orchestrator *migration.Orchestrator
	Receiver     *migration.Receiver
	Scheduler    *scheduler.Scheduler
	Server       *server.Server
	Obs          *observability.Manager

	pidPath string
	cancel  context.CancelFunc
}

// selfDispatcher implements flockclient.LocalDispatcher for a co-located
// agent: it speaks the same real A2A wire protocol a remote caller would,
// just against this node's own loopback address, grounded on the same
// card-resolve-then-a2aclient.NewFromCard pattern pkg/a2a/client.Client
// uses for genuinely remote agents. This keeps exactly one code path
// talking A2A wire protocol instead of special-casing local delivery
// through a2asrv internals.
type selfDispatcher struct {
	selfEndpoint string

	mu      sync.Mutex
	clients map[string]*a2aclient.Client
}

func newSelfDispatcher(selfEndpoint string) *selfDispatcher {
	return &selfDispatcher{selfEndpoint: selfEndpoint, clients: make(map[string]*a2aclient.Client)}
}

func (d *selfDispatcher) Dispatch(ctx context.Context, agentID string, msg *a2a.Message) (*a2a.Task, error) {
	remote, err := d.clientFor(ctx, agentID)
	if err != nil {
		return nil, err
	}
	result, err := remote.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return nil, flockerr.Wrap(flockerr.NetworkTimeout, "local_dispatch_send", "local dispatch to "+agentID+" failed", err)
	}
	taskInfo := result.TaskInfo()
	if taskInfo.TaskID == "" {
		return nil, flockerr.New(flockerr.Internal, "local_dispatch_send", "agent "+agentID+" returned no task id")
	}
	return remote.GetTask(ctx, &a2a.TaskQueryParams{ID: taskInfo.TaskID})
}

func (d *selfDispatcher) clientFor(ctx context.Context, agentID string) (*a2aclient.Client, error) {
	d.mu.Lock()
	if existing, ok := d.clients[agentID]; ok {
		d.mu.Unlock()
		return existing, nil
	}
	d.mu.Unlock()

	// The card resolver appends the well-known card path to the agent's
	// base URL itself.
	agentURL := strings.TrimSuffix(d.selfEndpoint, "/") + "/a2a/" + agentID
	card, err := agentcard.DefaultResolver.Resolve(ctx, agentURL)
	if err != nil {
		return nil, flockerr.Wrap(flockerr.NetworkTimeout, "local_dispatch_card", "failed to resolve local card for "+agentID, err)
	}
	remote, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, flockerr.Wrap(flockerr.NetworkTimeout, "local_dispatch_new", "failed to create local a2a client for "+agentID, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.clients[agentID]; ok {
		_ = remote.Destroy()
		return existing, nil
	}
	d.clients[agentID] = remote
	return remote, nil
}

// Boot assembles an App from cfg. It does not start listening; call
// App.Start for that. Steps log progress one line per stage, so a boot
// failure is easy to place.
func Boot(ctx context.Context, cfg *flockconfig.Config) (*App, error) {
	log := flocklog.GetLogger()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("boot: invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("boot: create data dir %s: %w", cfg.DataDir, err)
	}

	obsCfg := observability.ConfigFromEnv("flock-" + cfg.NodeID)
	obs, err := observability.NewManager(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("boot: init observability: %w", err)
	}
	log.Info("boot: observability ready", "tracingEnabled", obsCfg.TracingEnabled())

	log.Info("boot: opening store", "backend", cfg.DBBackend)
	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("boot: open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("boot: migrate store: %w", err)
	}

	homes := home.NewManager(st.Homes(), st.Transitions())
	auditLog := audit.NewLog(st.Audit())

	log.Info("boot: building node registry", "nodeId", cfg.NodeID, "topology", cfg.Topology)
	nodes := registry.NewNodeRegistry()
	if err := nodes.Register(&flockstate.NodeEntry{
		NodeID:      cfg.NodeID,
		A2AEndpoint: fmt.Sprintf("http://localhost:%d%s", cfg.Gateway.Port, cfg.Gateway.BasePath),
		Status:      flockstate.NodeOnline,
	}); err != nil {
		return nil, fmt.Errorf("boot: register self node: %w", err)
	}
	for _, rn := range cfg.RemoteNodes {
		if err := nodes.Register(&flockstate.NodeEntry{
			NodeID:      rn.NodeID,
			A2AEndpoint: rn.A2AEndpoint,
			Status:      flockstate.NodeOnline,
		}); err != nil {
			return nil, fmt.Errorf("boot: register remote node %s: %w", rn.NodeID, err)
		}
	}
	maybeSyncConsul(nodes)

	assignments := buildAssignmentStore(cfg)

	tickets := migration.NewTicketStore()
	engine := migration.NewEngine(tickets, homes, nodes, assignments, auditLog).WithObservability(obs)
	guard := migration.NewFrozenGuard(tickets)
	orch := migration.NewOrchestrator(engine)
	tmpDir := filepath.Join(cfg.DataDir, "migration-tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("boot: create migration tmp dir: %w", err)
	}
	receiver := migration.NewReceiver(tickets, tmpDir)

	res := buildResolver(cfg, nodes, assignments)

	triageTable := triage.NewTable()

	srv := server.New(nil, receiver, cfg.Gateway.BasePath).WithObservability(obs)
	selfEndpoint := fmt.Sprintf("http://localhost:%d%s", cfg.Gateway.Port, cfg.Gateway.BasePath)
	client := flockclient.New(res, newSelfDispatcher(selfEndpoint))

	app := &App{
		Config:       cfg,
		Store:        st,
		Homes:        homes,
		Audit:        auditLog,
		Nodes:        nodes,
		Assignments:  assignments,
		Resolver:     res,
		A2AClient:    client,
		Triage:       triageTable,
		Tickets:      tickets,
		Engine:       engine,
		Guard:        guard,
		Orchestrator: orch,
		Receiver:     receiver,
		Server:       srv,
		Obs:          obs,
		pidPath:      filepath.Join(cfg.DataDir, "flock.pid"),
	}
	srv.WithMigrationAdmin(engine, app.MigrateAgent)

	llm := session.NewStub()
	for _, ga := range cfg.GatewayAgents {
		role := resolveRole(cfg, ga)
		if err := app.registerAgent(ctx, ga, role, llm); err != nil {
			return nil, fmt.Errorf("boot: register agent %s: %w", ga.ID, err)
		}
	}

	app.Scheduler = scheduler.New(st.AgentLoops(), app.tick).WithMetrics(obs.Metrics())
	for _, ga := range cfg.GatewayAgents {
		if err := app.Scheduler.Init(ctx, ga.ID, flockstate.LoopAwake); err != nil {
			return nil, fmt.Errorf("boot: init loop state for %s: %w", ga.ID, err)
		}
	}

	log.Info("boot: assembled node", "nodeId", cfg.NodeID, "agents", len(cfg.GatewayAgents))
	return app, nil
}

// registerAgent seeds the agent's workspace, creates its Home if absent,
// builds its executor and A2A card, and registers both with the server.
func (a *App) registerAgent(ctx context.Context, ga flockconfig.GatewayAgent, role flocka2a.Role, llm session.Session) error {
	log := flocklog.GetLogger()

	homeID := flockstate.MakeHomeID(ga.ID, a.Config.NodeID)
	if _, err := a.Homes.Get(ctx, homeID); err != nil {
		if kind, ok := flockerr.KindOf(err); !ok || kind != flockerr.NotFound {
			return err
		}
		if _, err := a.Homes.Create(ctx, ga.ID, a.Config.NodeID); err != nil {
			return fmt.Errorf("create home for %s: %w", ga.ID, err)
		}
	}

	homePath := filepath.Join(a.Config.VaultsBasePath, ga.ID)
	if err := seedWorkspace(homePath, ga); err != nil {
		return fmt.Errorf("seed workspace for %s: %w", ga.ID, err)
	}

	if err := a.Nodes.UpdateAgents(a.Config.NodeID, appendUnique(a.nodeAgentIDs(), ga.ID)); err != nil {
		log.Warn("boot: failed to update node agent set", "agentId", ga.ID, "error", err)
	}

	var tools []string
	if role == flocka2a.RoleSysadmin {
		tools = []string{triage.ToolName}
	}
	exec := executor.New(executor.Config{
		AgentID:            ga.ID,
		Role:               string(role),
		Model:              ga.Model,
		SystemPrompt:       ga.SystemPrompt,
		Tools:              tools,
		ThinkingLevel:      session.ThinkingOff,
		MaxContextMessages: 50,
	}, a.Store.Tasks(), a.Audit, a.Triage, a.Guard, llm).WithObservability(a.Obs)

	card := buildCard(a.Config, ga, role)
	meta := flocka2a.FlockMeta{NodeID: a.Config.NodeID, Role: role, Archetype: ga.Archetype}
	a.Server.RegisterAgent(ga.ID, server.AgentBinding{Card: card, Meta: meta, Executor: exec})

	log.Info("boot: registered agent", "agentId", ga.ID, "role", role)
	return nil
}

func (a *App) nodeAgentIDs() []string {
	n, ok := a.Nodes.Get(a.Config.NodeID)
	if !ok {
		return nil
	}
	return n.AgentIDs
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// resolveRole applies the orchestratorIds override: a declared-worker
// agent listed in orchestratorIds is forced to orchestrator regardless
// of its configured role.
func resolveRole(cfg *flockconfig.Config, ga flockconfig.GatewayAgent) flocka2a.Role {
	for _, id := range cfg.OrchestratorIDs {
		if id == ga.ID {
			return flocka2a.RoleOrchestrator
		}
	}
	switch ga.Role {
	case string(flocka2a.RoleSysadmin):
		return flocka2a.RoleSysadmin
	case string(flocka2a.RoleOrchestrator):
		return flocka2a.RoleOrchestrator
	case string(flocka2a.RoleSystem):
		return flocka2a.RoleSystem
	default:
		return flocka2a.RoleWorker
	}
}

// buildCard constructs the a2a.AgentCard for one agent: defaulted
// input/output modes, a fallback single skill, streaming-only
// capabilities.
func buildCard(cfg *flockconfig.Config, ga flockconfig.GatewayAgent, role flocka2a.Role) *a2a.AgentCard {
	name := ga.ID
	if ga.Archetype != "" {
		name = ga.Archetype
	}
	url := fmt.Sprintf("http://localhost:%d%s/a2a/%s", cfg.Gateway.Port, cfg.Gateway.BasePath, ga.ID)

	return &a2a.AgentCard{
		Name:               name,
		Description:        fmt.Sprintf("Flock %s agent %q on node %q", role, ga.ID, cfg.NodeID),
		URL:                url,
		Version:            "1.0.0",
		ProtocolVersion:    "1.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills: []a2a.AgentSkill{{
			ID:          ga.ID,
			Name:        name,
			Description: fmt.Sprintf("General-purpose %s work for agent %s", role, ga.ID),
			Tags:        []string{"general", string(role)},
		}},
		Capabilities: a2a.AgentCapabilities{
			Streaming:              true,
			PushNotifications:      false,
			StateTransitionHistory: false,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "Flock",
			URL: "https://github.com/flock-run/flock",
		},
	}
}

// seedWorkspace lays down an agent's home directory: AGENTS.md and
// TOOLS.md are regenerated every boot; the identity/memory files are
// seeded once and never overwritten.
func seedWorkspace(homePath string, ga flockconfig.GatewayAgent) error {
	if err := os.MkdirAll(filepath.Join(homePath, "memory"), 0o755); err != nil {
		return err
	}

	agentsMD := fmt.Sprintf("# Agent %s\n\nRole: %s\nArchetype: %s\nModel: %s\n", ga.ID, ga.Role, ga.Archetype, ga.Model)
	if err := os.WriteFile(filepath.Join(homePath, "AGENTS.md"), []byte(agentsMD), 0o644); err != nil {
		return err
	}
	toolsMD := fmt.Sprintf("# Tools available to %s\n\n(none configured)\n", ga.ID)
	if err := os.WriteFile(filepath.Join(homePath, "TOOLS.md"), []byte(toolsMD), 0o644); err != nil {
		return err
	}

	seedOnce := map[string]string{
		"SOUL.md":      fmt.Sprintf("# Soul\n\n%s is a Flock agent.\n", ga.ID),
		"IDENTITY.md":  fmt.Sprintf("# Identity\n\nid: %s\n", ga.ID),
		"MEMORY.md":    "# Memory\n\n(empty)\n",
		"USER.md":      "# User\n\n(unset)\n",
		"HEARTBEAT.md": "# Heartbeat\n\n(never ticked)\n",
	}
	for name, content := range seedOnce {
		path := filepath.Join(homePath, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func openStore(cfg *flockconfig.Config) (store.Store, error) {
	switch cfg.DBBackend {
	case flockconfig.DBMemory:
		return memory.New(), nil
	case flockconfig.DBSQLite:
		return sqlstore.Open("sqlite3", filepath.Join(cfg.DataDir, "flock.db"))
	case flockconfig.DBPostgres:
		dsn := os.Getenv("FLOCK_POSTGRES_DSN")
		return sqlstore.Open("postgres", dsn)
	default:
		return memory.New(), nil
	}
}

// buildAssignmentStore returns the AssignmentStore appropriate to cfg's
// topology. Central topology defaults to an in-memory map, upgrading to
// etcd when FLOCK_ETCD_ENDPOINTS is set — etcd gives multi-process
// deployments one source of truth instead of each process's own map
// drifting apart.
func buildAssignmentStore(cfg *flockconfig.Config) registry.AssignmentStore {
	if cfg.Topology != flockconfig.TopologyCentral {
		return nil
	}
	if endpoints := os.Getenv("FLOCK_ETCD_ENDPOINTS"); endpoints != "" {
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   strings.Split(endpoints, ","),
			DialTimeout: 5 * time.Second,
		})
		if err == nil {
			return registry.NewEtcdAssignmentStore(cli, "/flock/assignments/")
		}
		flocklog.GetLogger().Warn("boot: failed to dial etcd, falling back to in-memory assignment store", "error", err)
	}
	return registry.NewMapAssignmentStore()
}

// maybeSyncConsul runs one Consul Sync at boot when FLOCK_CONSUL_ADDR is
// set, adding healthy nodes found in the Consul catalog to the
// NodeRegistry. It does not register this node with Consul and does not
// sync again later.
func maybeSyncConsul(nodes *registry.NodeRegistry) {
	addr := os.Getenv("FLOCK_CONSUL_ADDR")
	if addr == "" {
		return
	}
	backend, err := registry.NewConsulBackend(nodes, addr, "flock-node")
	if err != nil {
		flocklog.GetLogger().Warn("boot: failed to dial consul", "error", err)
		return
	}
	if err := backend.Sync(); err != nil {
		flocklog.GetLogger().Warn("boot: consul sync failed", "error", err)
	}
}

func buildResolver(cfg *flockconfig.Config, nodes *registry.NodeRegistry, assignments registry.AssignmentStore) resolver.Resolver {
	if cfg.Topology == flockconfig.TopologyCentral {
		sysadmin := resolver.NewCentralSysadminResolver(assignments, func(nodeID string) (string, bool) {
			n, ok := nodes.Get(nodeID)
			if !ok {
				return "", false
			}
			return n.A2AEndpoint, true
		}, cfg.NodeID)
		return resolver.NewCentralResolver(sysadmin)
	}
	localAgents := make(map[string]bool, len(cfg.GatewayAgents))
	for _, ga := range cfg.GatewayAgents {
		localAgents[ga.ID] = true
	}
	return resolver.NewPeerResolver(localAgents, nodes)
}

// tick is the scheduler.Ticker Boot wires: it sends a synthetic "tick"
// message through the same A2A client every other caller uses, so a
// ticked agent's executor sees an ordinary inbound message.
func (a *App) tick(ctx context.Context, agentID string) error {
	msg := flocka2a.Build(a2a.MessageRoleUser, "tick", &flocka2a.Meta{FlockType: flocka2a.TypeInfo}, nil)
	_, err := a.A2AClient.Send(ctx, agentID, msg)
	return err
}

// transportFor returns the HTTP JSON-RPC transport this node uses to reach
// targetNode, resolving its endpoint from the node registry. pkg/migration's
// own tests exercise transport.InProcess directly; a running node only ever
// migrates to a genuinely separate process, so boot only needs the wire
// transport.
func (a *App) transportFor(targetNode string) (transport.Transport, error) {
	n, ok := a.Nodes.Get(targetNode)
	if !ok {
		return nil, flockerr.New(flockerr.NotFound, "unknown_target_node", "target node "+targetNode+" is not in the registry")
	}
	return transport.NewHTTPJSONRPC(n.A2AEndpoint, a.Config.Gateway.Token), nil
}

// MigrateAgent drives agentID's migration from this node to targetNode
// end to end, the entry point a sysadmin agent or CLI command uses to
// kick off a relocation.
func (a *App) MigrateAgent(ctx context.Context, agentID, targetNode string, reason migration.Reason) (migration.RunResult, error) {
	t, err := a.transportFor(targetNode)
	if err != nil {
		return migration.RunResult{}, err
	}
	self, _ := a.Nodes.Get(a.Config.NodeID)
	tgt, _ := a.Nodes.Get(targetNode)
	homePath := filepath.Join(a.Config.VaultsBasePath, agentID)
	params := migration.RunParams{
		AgentID: agentID,
		Source: migration.Endpoint{
			NodeID:   a.Config.NodeID,
			HomeID:   flockstate.MakeHomeID(agentID, a.Config.NodeID),
			Endpoint: self.A2AEndpoint,
		},
		Target: migration.Endpoint{
			NodeID:   targetNode,
			HomeID:   flockstate.MakeHomeID(agentID, targetNode),
			Endpoint: tgt.A2AEndpoint,
		},
		Reason:         reason,
		HomePath:       homePath,
		WorkPath:       filepath.Join(homePath, "work"),
		TmpDir:         filepath.Join(a.Config.DataDir, "migration-tmp"),
		TargetHomePath: homePath,
		TargetWorkPath: filepath.Join(homePath, "work"),
	}
	return a.Orchestrator.Run(ctx, t, params), nil
}

// Start runs the HTTP server, the scheduler, and the triage TTL sweep
// until ctx is canceled, writing and removing the PID file around the
// run.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := os.WriteFile(a.pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("boot: write pid file: %w", err)
	}
	defer os.Remove(a.pidPath)

	a.Scheduler.Start(runCtx)
	defer a.Scheduler.Stop()

	go a.Triage.RunSweep(runCtx, time.Minute)

	addr := ":" + strconv.Itoa(a.Config.Gateway.Port)
	flocklog.GetLogger().Info("boot: listening", "addr", addr, "basePath", a.Config.Gateway.BasePath)
	return a.Server.Start(runCtx, addr)
}

// Shutdown cancels the run loop started by Start, flushes observability,
// and closes the store.
func (a *App) Shutdown() error {
	if a.cancel != nil {
		a.cancel()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Obs.Shutdown(shutdownCtx); err != nil {
		flocklog.GetLogger().Warn("boot: observability shutdown failed", "error", err)
	}
	return a.Store.Close()
}
