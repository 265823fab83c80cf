package flockconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Source supplies raw configuration bytes and, optionally, a change
// notification channel for hot-reload.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
	// Watch returns a channel that receives a value whenever the underlying
	// config changes, or (nil, nil) if this source doesn't support watching.
	Watch(ctx context.Context) (<-chan struct{}, error)
	Close() error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange registers a callback invoked with the freshly reloaded
// config whenever the source signals a change.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) { l.onChange = fn }
}

// Loader loads and optionally hot-reloads configuration from a Source.
type Loader struct {
	source   Source
	onChange func(*Config)
}

func NewLoader(source Source, opts ...LoaderOption) *Loader {
	l := &Loader{source: source}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, parses (JSON or YAML), decodes, defaults, and validates.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("flockconfig: failed to load source: %w", err)
	}

	raw, err := parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("flockconfig: failed to parse config: %w", err)
	}

	cfg := &Config{}
	if err := decode(raw, cfg); err != nil {
		return nil, fmt.Errorf("flockconfig: failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	_ = cfg.Validate() // never fails: Validate repairs rather than rejects
	return cfg, nil
}

// Watch blocks, reloading and invoking onChange whenever the source signals
// a change, until ctx is canceled.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("flockconfig: failed to start watching: %w", err)
	}
	if changes == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			cfg, err := l.Load(ctx)
			if err != nil {
				continue
			}
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}
}

func (l *Loader) Close() error { return l.source.Close() }

func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal(data, &result); err == nil {
		return result, nil
	}
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as JSON or YAML: %w", err)
	}
	return result, nil
}

func decode(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// Load resolves a Config with the following precedence: an explicit
// in-process map/struct wins outright; otherwise $FLOCK_CONFIG, then
// ./flock.json (or flock.yaml), then ~/.flock/flock.json (or flock.yaml).
// A nil inline value with no file found on any of those paths yields
// defaults rather than an error.
func Load(ctx context.Context, inline map[string]any) (*Config, error) {
	if inline != nil {
		cfg := &Config{}
		if err := decode(inline, cfg); err != nil {
			return nil, fmt.Errorf("flockconfig: failed to decode inline config: %w", err)
		}
		cfg.SetDefaults()
		_ = cfg.Validate()
		return cfg, nil
	}

	path := resolvePath()
	if path == "" {
		cfg := &Config{}
		cfg.SetDefaults()
		return cfg, nil
	}

	loader := NewLoader(NewFileSource(path))
	return loader.Load(ctx)
}

// resolvePath returns the first candidate config file that exists, in
// precedence order ($FLOCK_CONFIG, ./flock.json, ~/.flock/flock.json),
// accepting a .yaml sibling at each location.
func resolvePath() string {
	if envPath := os.Getenv("FLOCK_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	candidates := []string{"flock.json", "flock.yaml"}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"flock.json", "flock.yaml"} {
			p := filepath.Join(home, ".flock", name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}

	return ""
}
