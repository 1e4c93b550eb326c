// Package config provides the typed runtime configuration for aacode and
// its YAML loader.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized runtime option. Zero values are replaced
// with defaults by Normalize.
type Config struct {
	// Provider selects the model caller adapter ("openai" or "anthropic").
	// Default: "openai"
	Provider string `yaml:"provider"`

	// Model is the model identifier passed to the provider.
	Model string `yaml:"model"`

	// MaxReactIterations limits the outer ReAct loop.
	// Default: 50
	MaxReactIterations int `yaml:"max_react_iterations"`

	// MaxSubAgentIterations limits delegated sub-task loops.
	// Default: 30
	MaxSubAgentIterations int `yaml:"max_sub_agent_iterations"`

	// CompactTriggerTokens is the message-list token count above which
	// (strictly greater) compaction runs.
	// Default: 8000
	CompactTriggerTokens int `yaml:"compact_trigger_tokens"`

	// CompactKeepMessages is the recent-message cap used by session-local
	// compression.
	// Default: 20
	CompactKeepMessages int `yaml:"compact_keep_messages"`

	// CompactKeepRounds is the number of trailing rounds preserved verbatim.
	// Default: 8
	CompactKeepRounds int `yaml:"compact_keep_rounds"`

	// CompactSummarySteps is the number of steps folded into one summary.
	// Default: 10
	CompactSummarySteps int `yaml:"compact_summary_steps"`

	// CompactProtectFirstRounds is the number of leading rounds preserved
	// verbatim after the system preamble.
	// Default: 3
	CompactProtectFirstRounds int `yaml:"compact_protect_first_rounds"`

	// MaxTokensPerSession is the hard session token ceiling.
	// Default: 200000
	MaxTokensPerSession int `yaml:"max_tokens_per_session"`

	// ShellCommandTimeout is the inner timeout for shell commands.
	// Default: 30s (per-call override capped at 300s)
	ShellCommandTimeout Duration `yaml:"shell_command_timeout"`

	// ToolExecutionTimeout is the hard wall-clock deadline per tool call.
	// Default: 60s
	ToolExecutionTimeout Duration `yaml:"tool_execution_timeout"`

	// ModelSummaryTimeout bounds the compaction/completion model calls.
	// Default: 30s
	ModelSummaryTimeout Duration `yaml:"model_summary_timeout"`

	// CodeExecutionTimeout bounds code-running tools.
	// Default: 60s
	CodeExecutionTimeout Duration `yaml:"code_execution_timeout"`

	// MaxFileListResults caps list_files output entries.
	// Default: 100
	MaxFileListResults int `yaml:"max_file_list_results"`

	// MaxSearchResults caps search_files matches.
	// Default: 20
	MaxSearchResults int `yaml:"max_search_results"`

	// MaxRetries is the retry budget for retryable tool failures.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// MaxAutoReadLines caps read_file output when no range is given.
	// Default: 200
	MaxAutoReadLines int `yaml:"max_auto_read_lines"`

	// MaxContextFiles caps the file listing in the assembled context.
	// Default: 50
	MaxContextFiles int `yaml:"max_context_files"`

	// Truncation thresholds by observation kind, with matching preview
	// lengths used for the display form.
	TestOutputThreshold   int `yaml:"test_output_threshold"`   // Default: 15000
	CodeContentThreshold  int `yaml:"code_content_threshold"`  // Default: 30000
	NormalOutputThreshold int `yaml:"normal_output_threshold"` // Default: 15000
	TestOutputPreview     int `yaml:"test_output_preview"`     // Default: 3000
	CodeContentPreview    int `yaml:"code_content_preview"`    // Default: 5000
	NormalOutputPreview   int `yaml:"normal_output_preview"`   // Default: 2000

	// Interactive enables human confirmation callbacks for warning-level
	// shell commands.
	// Default: false
	Interactive bool `yaml:"interactive"`
}

// Default returns a configuration populated with every default value.
func Default() *Config {
	return &Config{
		Provider:                  "openai",
		MaxReactIterations:        50,
		MaxSubAgentIterations:     30,
		CompactTriggerTokens:      8000,
		CompactKeepMessages:       20,
		CompactKeepRounds:         8,
		CompactSummarySteps:       10,
		CompactProtectFirstRounds: 3,
		MaxTokensPerSession:       200000,
		ShellCommandTimeout:       Duration(30 * time.Second),
		ToolExecutionTimeout:      Duration(60 * time.Second),
		ModelSummaryTimeout:       Duration(30 * time.Second),
		CodeExecutionTimeout:      Duration(60 * time.Second),
		MaxFileListResults:        100,
		MaxSearchResults:          20,
		MaxRetries:                3,
		MaxAutoReadLines:          200,
		MaxContextFiles:           50,
		TestOutputThreshold:       15000,
		CodeContentThreshold:      30000,
		NormalOutputThreshold:     15000,
		TestOutputPreview:         3000,
		CodeContentPreview:        5000,
		NormalOutputPreview:       2000,
	}
}

// Load reads a YAML config file, expands environment variables, and merges
// the result over defaults. A missing file is not an error; defaults are
// returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Normalize replaces non-positive values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.MaxReactIterations <= 0 {
		c.MaxReactIterations = d.MaxReactIterations
	}
	if c.MaxSubAgentIterations <= 0 {
		c.MaxSubAgentIterations = d.MaxSubAgentIterations
	}
	if c.CompactTriggerTokens <= 0 {
		c.CompactTriggerTokens = d.CompactTriggerTokens
	}
	if c.CompactKeepMessages <= 0 {
		c.CompactKeepMessages = d.CompactKeepMessages
	}
	if c.CompactKeepRounds <= 0 {
		c.CompactKeepRounds = d.CompactKeepRounds
	}
	if c.CompactSummarySteps <= 0 {
		c.CompactSummarySteps = d.CompactSummarySteps
	}
	if c.CompactProtectFirstRounds <= 0 {
		c.CompactProtectFirstRounds = d.CompactProtectFirstRounds
	}
	if c.MaxTokensPerSession <= 0 {
		c.MaxTokensPerSession = d.MaxTokensPerSession
	}
	if c.ShellCommandTimeout <= 0 {
		c.ShellCommandTimeout = d.ShellCommandTimeout
	}
	if c.ToolExecutionTimeout <= 0 {
		c.ToolExecutionTimeout = d.ToolExecutionTimeout
	}
	if c.ModelSummaryTimeout <= 0 {
		c.ModelSummaryTimeout = d.ModelSummaryTimeout
	}
	if c.CodeExecutionTimeout <= 0 {
		c.CodeExecutionTimeout = d.CodeExecutionTimeout
	}
	if c.MaxFileListResults <= 0 {
		c.MaxFileListResults = d.MaxFileListResults
	}
	if c.MaxSearchResults <= 0 {
		c.MaxSearchResults = d.MaxSearchResults
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxAutoReadLines <= 0 {
		c.MaxAutoReadLines = d.MaxAutoReadLines
	}
	if c.MaxContextFiles <= 0 {
		c.MaxContextFiles = d.MaxContextFiles
	}
	if c.TestOutputThreshold <= 0 {
		c.TestOutputThreshold = d.TestOutputThreshold
	}
	if c.CodeContentThreshold <= 0 {
		c.CodeContentThreshold = d.CodeContentThreshold
	}
	if c.NormalOutputThreshold <= 0 {
		c.NormalOutputThreshold = d.NormalOutputThreshold
	}
	if c.TestOutputPreview <= 0 {
		c.TestOutputPreview = d.TestOutputPreview
	}
	if c.CodeContentPreview <= 0 {
		c.CodeContentPreview = d.CodeContentPreview
	}
	if c.NormalOutputPreview <= 0 {
		c.NormalOutputPreview = d.NormalOutputPreview
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("provider: unknown provider %q", c.Provider)
	}
	if c.CompactKeepRounds > 64 {
		return fmt.Errorf("compact_keep_rounds: %d is too large", c.CompactKeepRounds)
	}
	if c.ShellCommandTimeout.Std() > 300*time.Second {
		return fmt.Errorf("shell_command_timeout: exceeds 300s cap")
	}
	return nil
}
