// Command flock is the CLI for a Flock node.
//
// Usage:
//
//	flock serve --config flock.yaml
//	flock serve --port 9090 --node-id node-2
//	flock info --config flock.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/flock-run/flock/pkg/boot"
	"github.com/flock-run/flock/pkg/flockconfig"
	"github.com/flock-run/flock/pkg/flocklog"
	"github.com/flock-run/flock/pkg/migration"
)

// CLI defines the command-line interface: a kong CLI with Serve/Info/
// Migrate/Version commands and shared Config/LogLevel flags, trimmed to Flock's
// own surface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Boot a Flock node and serve its A2A surface."`
	Info    InfoCmd    `cmd:"" help:"Show the configured node's agents and topology."`
	Migrate MigrateCmd `cmd:"" help:"Trigger an agent migration to another node."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("flock version %s\n", version)
	return nil
}

// ServeCmd boots a node and serves until it receives SIGINT/SIGTERM.
type ServeCmd struct {
	Port     int    `help:"Port to listen on (overrides config gateway.port)."`
	BasePath string `help:"A2A base path (overrides config gateway.basePath)."`
	NodeID   string `help:"Node id (overrides config nodeId)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("flock: shutting down")
		cancel()
	}()

	cfg, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Gateway.Port = c.Port
	}
	if c.BasePath != "" {
		cfg.Gateway.BasePath = c.BasePath
	}
	if c.NodeID != "" {
		cfg.NodeID = c.NodeID
	}

	app, err := boot.Boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	defer app.Shutdown()

	slog.Info("flock: node ready", "nodeId", cfg.NodeID, "port", cfg.Gateway.Port, "basePath", cfg.Gateway.BasePath)
	return app.Start(ctx)
}

// InfoCmd prints the resolved configuration without starting anything.
type InfoCmd struct{}

func (c *InfoCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(context.Background(), cli.Config)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// MigrateCmd boots a node just long enough to drive one migration and
// report its outcome — a scriptable alternative to a sysadmin agent
// request for operators exercising the migration engine directly.
type MigrateCmd struct {
	AgentID    string `arg:"" help:"Id of the agent to migrate."`
	TargetNode string `arg:"" help:"Node id to migrate the agent to."`
	Reason     string `help:"Migration reason." default:"agent_request"`
}

func (c *MigrateCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}

	app, err := boot.Boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	defer app.Shutdown()

	result, err := app.MigrateAgent(ctx, c.AgentID, c.TargetNode, migration.Reason(c.Reason))
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.Success {
		return fmt.Errorf("migration did not complete: %s", result.Error)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*flockconfig.Config, error) {
	if path == "" {
		return flockconfig.Load(ctx, nil)
	}
	return flockconfig.NewLoader(flockconfig.NewFileSource(path)).Load(ctx)
}

func main() {
	if err := flockconfig.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "flock: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("flock"),
		kong.Description("Flock distributed agent control plane."),
		kong.UsageOnError(),
	)

	level, err := flocklog.ParseLevel(cli.LogLevel)
	if err != nil {
		level = 0
	}
	output := os.Stderr
	if cli.LogFile != "" {
		f, closeFn, err := flocklog.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flock: failed to open log file %s: %v\n", cli.LogFile, err)
			os.Exit(1)
		}
		defer closeFn()
		output = f
	}
	flocklog.Init(level, output, cli.LogFormat)

	if err := ctx.Run(&cli); err != nil {
		slog.Error("flock: command failed", "error", err)
		os.Exit(1)
	}
}
