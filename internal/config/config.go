// File: internal/config/config.go
// Brief: Tool-level settings: state root, current pipeline, container engine.

// Package config loads and persists dpl's own settings, translating the
// config file and environment overrides into a strongly typed struct that
// the pipeline controller and CLI commands consume. Pipeline descriptors are
// not handled here; they belong to internal/pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	configFileName = "config.yaml"

	// EnvRoot overrides the state root directory when set.
	EnvRoot = "DPL_ROOT"
)

// Settings holds dpl's persistent tool-level state.
type Settings struct {
	// Root is the directory holding all dpl state: pipelines, named
	// environments, and container manifests.
	Root string `mapstructure:"root"`
	// CurrentPipeline is the pipeline name commands default to when none is
	// given on the command line.
	CurrentPipeline string `mapstructure:"current_pipeline"`
	// ContainerEngine is the engine binary used for image builds when a
	// pipeline does not name one (docker or podman).
	ContainerEngine string `mapstructure:"container_engine"`
}

// Load reads settings from $DPL_ROOT/config.yaml (or ~/.dpl/config.yaml),
// applying defaults when the file does not exist yet.
func Load() (*Settings, error) {
	root, err := defaultRoot()
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(filepath.Join(root, configFileName))
	v.SetConfigType("yaml")
	v.SetDefault("root", root)
	v.SetDefault("current_pipeline", "")
	v.SetDefault("container_engine", "docker")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", v.ConfigFileUsed(), err)
	}
	if strings.TrimSpace(s.Root) == "" {
		s.Root = root
	}
	return s, nil
}

// Save writes the settings back to <root>/config.yaml.
func (s *Settings) Save() error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return fmt.Errorf("create state root %s: %w", s.Root, err)
	}
	v := viper.New()
	v.SetConfigFile(filepath.Join(s.Root, configFileName))
	v.SetConfigType("yaml")
	v.Set("root", s.Root)
	v.Set("current_pipeline", s.CurrentPipeline)
	v.Set("container_engine", s.ContainerEngine)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SetCurrentPipeline records name as the default pipeline and persists it.
// An empty name clears the default.
func (s *Settings) SetCurrentPipeline(name string) error {
	s.CurrentPipeline = name
	return s.Save()
}

// PipelinesDir is the directory holding one subtree per pipeline.
func (s *Settings) PipelinesDir() string {
	return filepath.Join(s.Root, "pipelines")
}

// PipelineDir is the root of one pipeline's persisted state.
func (s *Settings) PipelineDir(name string) string {
	return filepath.Join(s.PipelinesDir(), name)
}

// PackageDir is the working subtree of one package within a pipeline,
// holding config/, shared/, and private/ subdirectories.
func (s *Settings) PackageDir(pipeline, pkgID string) string {
	return filepath.Join(s.PipelineDir(pipeline), "packages", pkgID)
}

// EnvDir holds named environments reusable across pipelines.
func (s *Settings) EnvDir() string {
	return filepath.Join(s.Root, "env")
}

// ContainersDir holds container manifests and build scripts, keyed by
// container name and shared across pipelines.
func (s *Settings) ContainersDir() string {
	return filepath.Join(s.Root, "containers")
}

func defaultRoot() (string, error) {
	if root := strings.TrimSpace(os.Getenv(EnvRoot)); root != "" {
		expanded, err := homedir.Expand(root)
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", EnvRoot, err)
		}
		return expanded, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".dpl"), nil
}
