// Package flockconfig loads and hot-reloads Flock's node configuration:
// a Loader over a pluggable provider, mapstructure decoding into a typed
// struct, defaults applied after decode, never crashing on malformed
// config.
package flockconfig

// Topology is the closed set of deployment topologies.
type Topology string

const (
	TopologyPeer    Topology = "peer"
	TopologyCentral Topology = "central"
)

// DBBackend is the closed set of persistence backends.
type DBBackend string

const (
	DBMemory   DBBackend = "memory"
	DBSQLite   DBBackend = "sqlite"
	DBPostgres DBBackend = "postgres"
)

// RemoteNode is one entry of the static peer/central topology table.
type RemoteNode struct {
	NodeID      string `mapstructure:"nodeId" yaml:"nodeId"`
	A2AEndpoint string `mapstructure:"a2aEndpoint" yaml:"a2aEndpoint"`
}

// GatewayAgent declares one agent this node hosts at boot.
type GatewayAgent struct {
	ID           string `mapstructure:"id" yaml:"id"`
	Role         string `mapstructure:"role" yaml:"role"`
	Archetype    string `mapstructure:"archetype" yaml:"archetype"`
	Model        string `mapstructure:"model" yaml:"model"`
	SystemPrompt string `mapstructure:"systemPrompt" yaml:"systemPrompt"`
}

// Gateway is the inbound HTTP surface's port, base path, and bearer token.
type Gateway struct {
	Port     int    `mapstructure:"port" yaml:"port"`
	BasePath string `mapstructure:"basePath" yaml:"basePath"`
	Token    string `mapstructure:"token" yaml:"token"`
}

// Config is Flock's recognized configuration surface.
// Unknown fields are ignored by mapstructure; every field has a default
// applied by SetDefaults so a zero-value Config is never used directly.
type Config struct {
	DataDir         string         `mapstructure:"dataDir" yaml:"dataDir"`
	DBBackend       DBBackend      `mapstructure:"dbBackend" yaml:"dbBackend"`
	Topology        Topology       `mapstructure:"topology" yaml:"topology"`
	NodeID          string         `mapstructure:"nodeId" yaml:"nodeId"`
	RemoteNodes     []RemoteNode   `mapstructure:"remoteNodes" yaml:"remoteNodes"`
	GatewayAgents   []GatewayAgent `mapstructure:"gatewayAgents" yaml:"gatewayAgents"`
	OrchestratorIDs []string       `mapstructure:"orchestratorIds" yaml:"orchestratorIds"`
	Gateway         Gateway        `mapstructure:"gateway" yaml:"gateway"`
	VaultsBasePath  string         `mapstructure:"vaultsBasePath" yaml:"vaultsBasePath"`
}

// SetDefaults fills unset fields with their defaults. Called after every
// decode so a partially-specified config never leaves a field zero.
func (c *Config) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = ".flock"
	}
	if c.DBBackend == "" {
		c.DBBackend = DBMemory
	}
	if c.Topology == "" {
		c.Topology = TopologyPeer
	}
	if c.NodeID == "" {
		c.NodeID = "local"
	}
	if c.VaultsBasePath == "" {
		c.VaultsBasePath = c.DataDir + "/vaults"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 8080
	}
	if c.Gateway.BasePath == "" {
		c.Gateway.BasePath = "/flock"
	}
}

// Validate repairs unknown Topology and DBBackend values back to their
// defaults rather than erroring, so config never crashes a boot; it
// always returns nil.
func (c *Config) Validate() error {
	switch c.Topology {
	case TopologyPeer, TopologyCentral:
	default:
		c.Topology = TopologyPeer
	}
	switch c.DBBackend {
	case DBMemory, DBSQLite, DBPostgres:
	default:
		c.DBBackend = DBMemory
	}
	return nil
}
