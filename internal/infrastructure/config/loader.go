package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// DefaultPath is the config file name looked up in the project directory.
const DefaultPath = ".libertydev.yaml"

// ParseError reports an invalid value in the config file.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type Loader struct{}

type fileConfig struct {
	Version               int                   `yaml:"version"`
	ServerName            string                `yaml:"serverName,omitempty"`
	InstallDirectory      string                `yaml:"installDirectory,omitempty"`
	Module                string                `yaml:"module,omitempty"`
	RecompileDependencies *bool                 `yaml:"recompileDependencies,omitempty"`
	HotTests              *bool                 `yaml:"hotTests,omitempty"`
	SkipTests             *bool                 `yaml:"skipTests,omitempty"`
	SkipUTs               *bool                 `yaml:"skipUTs,omitempty"`
	SkipITs               *bool                 `yaml:"skipITs,omitempty"`
	Debug                 *bool                 `yaml:"debug,omitempty"`
	DebugPort             *int                  `yaml:"debugPort,omitempty"`
	AcceptLicense         *bool                 `yaml:"acceptLicense,omitempty"`
	Debounce              string                `yaml:"debounce,omitempty"`
	ServerStartTimeout    string                `yaml:"serverStartTimeout,omitempty"`
	VerifyTimeout         string                `yaml:"verifyTimeout,omitempty"`
	Container             *bool                 `yaml:"container,omitempty"`
	ContainerImage        string                `yaml:"containerImage,omitempty"`
	Ignore                []string              `yaml:"ignore,omitempty"`
	Modules               map[string]fileModule `yaml:"modules,omitempty"`
}

type fileModule struct {
	SkipTests *bool `yaml:"skipTests,omitempty"`
	SkipUTs   *bool `yaml:"skipUTs,omitempty"`
	SkipITs   *bool `yaml:"skipITs,omitempty"`
}

func (l Loader) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Load reads the config file at path. Settings absent from the file keep
// their defaults.
func (l Loader) Load(path string) (application.Config, error) {
	// #nosec G304 -- config path is provided by the user
	raw, err := os.ReadFile(path)
	if err != nil {
		return application.Config{}, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return application.Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fc.toConfig()
}

func (fc fileConfig) toConfig() (application.Config, error) {
	cfg := application.DefaultConfig()
	if fc.Version != 0 {
		cfg.Version = fc.Version
	}
	if fc.Version > 1 {
		return cfg, &ParseError{Field: "version", Value: fmt.Sprint(fc.Version), Err: errors.New("unsupported version")}
	}
	if fc.ServerName != "" {
		cfg.ServerName = fc.ServerName
	}
	if fc.InstallDirectory != "" {
		cfg.InstallDirectory = fc.InstallDirectory
	}
	cfg.Module = fc.Module
	setBool(&cfg.RecompileDependencies, fc.RecompileDependencies)
	setBool(&cfg.HotTests, fc.HotTests)
	setBool(&cfg.Debug, fc.Debug)
	setBool(&cfg.AcceptLicense, fc.AcceptLicense)
	setBool(&cfg.Container, fc.Container)
	cfg.ContainerImage = fc.ContainerImage
	cfg.Skip = domain.SkipSources{SkipTests: fc.SkipTests, SkipUTs: fc.SkipUTs, SkipITs: fc.SkipITs}

	if fc.DebugPort != nil {
		if *fc.DebugPort < 0 || *fc.DebugPort > 65535 {
			return cfg, &ParseError{Field: "debugPort", Value: fmt.Sprint(*fc.DebugPort), Err: errors.New("out of range")}
		}
		cfg.DebugPort = *fc.DebugPort
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"debounce", fc.Debounce, &cfg.Debounce},
		{"serverStartTimeout", fc.ServerStartTimeout, &cfg.ServerStartTimeout},
		{"verifyTimeout", fc.VerifyTimeout, &cfg.VerifyTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return cfg, &ParseError{Field: d.field, Value: d.value, Err: err}
		}
		if v < 0 {
			return cfg, &ParseError{Field: d.field, Value: d.value, Err: errors.New("must not be negative")}
		}
		*d.dst = v
	}

	if len(fc.Ignore) > 0 {
		cfg.Ignore = append(cfg.Ignore, fc.Ignore...)
	}
	if len(fc.Modules) > 0 {
		cfg.ModuleSkip = make(map[string]domain.SkipSources, len(fc.Modules))
		for id, m := range fc.Modules {
			cfg.ModuleSkip[id] = domain.SkipSources{SkipTests: m.SkipTests, SkipUTs: m.SkipUTs, SkipITs: m.SkipITs}
		}
	}
	return cfg, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Write encodes cfg as YAML.
func Write(w io.Writer, cfg application.Config) error {
	defaults := application.DefaultConfig()
	out := fileConfig{
		Version:               cfg.Version,
		ServerName:            cfg.ServerName,
		InstallDirectory:      cfg.InstallDirectory,
		Module:                cfg.Module,
		RecompileDependencies: boolPtr(cfg.RecompileDependencies),
		HotTests:              boolPtr(cfg.HotTests),
		SkipTests:             cfg.Skip.SkipTests,
		SkipUTs:               cfg.Skip.SkipUTs,
		SkipITs:               cfg.Skip.SkipITs,
		Debug:                 boolPtr(cfg.Debug),
		DebugPort:             &cfg.DebugPort,
		AcceptLicense:         boolPtr(cfg.AcceptLicense),
		Debounce:              cfg.Debounce.String(),
		ServerStartTimeout:    cfg.ServerStartTimeout.String(),
		VerifyTimeout:         cfg.VerifyTimeout.String(),
		Container:             boolPtr(cfg.Container),
		ContainerImage:        cfg.ContainerImage,
		Ignore:                extraIgnores(cfg.Ignore, defaults.Ignore),
	}
	if out.Version == 0 {
		out.Version = 1
	}
	if len(cfg.ModuleSkip) > 0 {
		out.Modules = make(map[string]fileModule, len(cfg.ModuleSkip))
		for id, s := range cfg.ModuleSkip {
			out.Modules[id] = fileModule{SkipTests: s.SkipTests, SkipUTs: s.SkipUTs, SkipITs: s.SkipITs}
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return enc.Encode(out)
}

// extraIgnores drops the built-in patterns, which Load adds back.
func extraIgnores(all, defaults []string) []string {
	builtin := make(map[string]bool, len(defaults))
	for _, p := range defaults {
		builtin[p] = true
	}
	var out []string
	for _, p := range all {
		if !builtin[p] {
			out = append(out, p)
		}
	}
	return out
}

func boolPtr(v bool) *bool { return &v }
