package flockconfig

import "testing"

func TestSetDefaultsFillsZeroValueConfig(t *testing.T) {
	c := &Config{}
	c.SetDefaults()

	if c.DataDir != ".flock" {
		t.Errorf("DataDir = %q, want .flock", c.DataDir)
	}
	if c.DBBackend != DBMemory {
		t.Errorf("DBBackend = %q, want memory", c.DBBackend)
	}
	if c.Topology != TopologyPeer {
		t.Errorf("Topology = %q, want peer", c.Topology)
	}
	if c.NodeID != "local" {
		t.Errorf("NodeID = %q, want local", c.NodeID)
	}
	if c.Gateway.Port != 8080 {
		t.Errorf("Gateway.Port = %d, want 8080", c.Gateway.Port)
	}
	if c.Gateway.BasePath != "/flock" {
		t.Errorf("Gateway.BasePath = %q, want /flock", c.Gateway.BasePath)
	}
	if c.VaultsBasePath != ".flock/vaults" {
		t.Errorf("VaultsBasePath = %q, want .flock/vaults", c.VaultsBasePath)
	}
}

func TestSetDefaultsPreservesExplicitValues(t *testing.T) {
	c := &Config{DataDir: "/srv/flock", Gateway: Gateway{Port: 9000}}
	c.SetDefaults()

	if c.DataDir != "/srv/flock" {
		t.Errorf("DataDir = %q, want unchanged /srv/flock", c.DataDir)
	}
	if c.Gateway.Port != 9000 {
		t.Errorf("Gateway.Port = %d, want unchanged 9000", c.Gateway.Port)
	}
}

func TestValidateRepairsUnknownTopologyRatherThanFailing(t *testing.T) {
	c := &Config{Topology: Topology("quantum")}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate should never fail on a malformed enum, got: %v", err)
	}
	if c.Topology != TopologyPeer {
		t.Errorf("Topology = %q, want repaired to peer", c.Topology)
	}
}

func TestValidateRepairsUnknownDBBackendRatherThanFailing(t *testing.T) {
	c := &Config{DBBackend: DBBackend("mongodb")}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate should never fail on a malformed enum, got: %v", err)
	}
	if c.DBBackend != DBMemory {
		t.Errorf("DBBackend = %q, want repaired to memory", c.DBBackend)
	}
}

func TestValidateAcceptsKnownEnumsUnchanged(t *testing.T) {
	c := &Config{Topology: TopologyCentral, DBBackend: DBSQLite}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate unexpected error: %v", err)
	}
	if c.Topology != TopologyCentral {
		t.Errorf("Topology = %q, want unchanged central", c.Topology)
	}
	if c.DBBackend != DBSQLite {
		t.Errorf("DBBackend = %q, want unchanged sqlite", c.DBBackend)
	}
}
