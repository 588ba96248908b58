package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"pmsim/internal/policy"
)

type Config struct {
	Simulation SimulationConfig  `toml:"simulation"`
	Scheduler  SchedulerConfig   `toml:"scheduler"`
	Batch      BatchConfig       `toml:"batch"`
	Store      StoreConfig       `toml:"store"`
	Report     ReportConfig      `toml:"report"`
	Extract    ExtractConfig     `toml:"extract"`
	Rules      []policy.Proposal `toml:"rules"`
	Raw        map[string]any    `toml:"-"`
	Path       string            `toml:"-"`
}

type SimulationConfig struct {
	Step              float64   `toml:"step"`
	MaxSteps          int       `toml:"max_steps"`
	Workers           int       `toml:"workers"`
	Skills            []float64 `toml:"skills"`
	MinTeamMotivation float64   `toml:"min_team_motivation"`
	RiskTolerance     float64   `toml:"risk_tolerance"`
	WorkProb          float64   `toml:"work_prob"`
	CooperationProb   float64   `toml:"cooperation_prob"`
	ExplorationRate   float64   `toml:"exploration_rate"`
	AskReports        bool      `toml:"ask_reports"`
	AdaptiveRules     bool      `toml:"adaptive_rules"`
	ProgressNoise     float64   `toml:"progress_noise"`
}

type SchedulerConfig struct {
	Population        int     `toml:"population"`
	Generations       int     `toml:"generations"`
	Elitism           float64 `toml:"elitism"`
	MutationProb      float64 `toml:"mutation_prob"`
	Crossover         string  `toml:"crossover"`
	Selection         string  `toml:"selection"`
	StoppingRounds    int     `toml:"stopping_rounds"`
	StoppingTolerance float64 `toml:"stopping_tolerance"`
}

type BatchConfig struct {
	Replicas    int   `toml:"replicas"`
	Parallelism int   `toml:"parallelism"`
	Seed        int64 `toml:"seed"`
}

type StoreConfig struct {
	DBPath string `toml:"db_path"`
}

type ReportConfig struct {
	OutDir string `toml:"out_dir"`
}

type ExtractConfig struct {
	Endpoint    string `toml:"endpoint"`
	Model       string `toml:"model"`
	APIKeyEnv   string `toml:"api_key_env"`
	Concurrency int    `toml:"concurrency"`
	TimeoutMS   int    `toml:"timeout_ms"`
	Retries     int    `toml:"retries"`
}

// APIKey reads the extraction token from the configured environment
// variable.
func (c ExtractConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = DefaultPath()
	}
	resolved, err := ExpandHome(resolved)
	if err != nil {
		return Config{}, err
	}

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	cfg.Path = resolved
	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(path, "~")
	trimmed = strings.TrimPrefix(trimmed, "\\")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Clean(filepath.Join(home, trimmed)), nil
}

func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pmsim/config.toml"
	}
	return filepath.Join(home, ".pmsim", "config.toml")
}
