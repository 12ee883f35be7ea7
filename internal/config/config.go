package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dgallion1/booksage/internal/chunker"
	"github.com/dgallion1/booksage/internal/oracle"
	"github.com/dgallion1/booksage/internal/reasoning"
)

type Config struct {
	// HTTP server
	Port   string `yaml:"port"`
	APIKey string `yaml:"-"` // BOOKSAGE_API_KEY, bearer token for the API

	// Session worker pool
	WorkerCount      int           `yaml:"worker_count"`
	MaxQueueSize     int           `yaml:"max_queue_size"`
	JobTTL           time.Duration `yaml:"job_ttl"`
	MaxQuestionBytes int64         `yaml:"max_question_bytes"`

	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Agent     AgentConfig     `yaml:"agent"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Cache     CacheConfig     `yaml:"cache"`
	Output    OutputConfig    `yaml:"output"`

	Providers []oracle.ProviderConfig `yaml:"providers"`
	Router    oracle.RouterConfig     `yaml:",inline"`
}

type KnowledgeConfig struct {
	BooksDir               string `yaml:"books_dir"`
	Dir                    string `yaml:"knowledge_dir"`
	SummaryLevels          []int  `yaml:"summary_levels"`
	MaxCharsPerSummaryCall int    `yaml:"max_chars_per_summary_call"`
}

type AgentConfig struct {
	MaxDepth                      int     `yaml:"max_depth"`
	MaxSelectedNodes              int     `yaml:"max_selected_nodes"`
	MaxSubquestions               int     `yaml:"max_subquestions"`
	StopIfConfidenceGE            float64 `yaml:"stop_if_confidence_ge"`
	ChunkSizeChars                int     `yaml:"chunk_size_chars"`
	ChunkOverlapChars             int     `yaml:"chunk_overlap_chars"`
	MaxChunksPerNode              int     `yaml:"max_chunks_per_node"`
	RequireConfirmIfTotalChunksGE int     `yaml:"require_confirm_if_total_chunks_ge"`
	EvidenceWorkers               int     `yaml:"evidence_workers"`
	OutlineMaxLevel               int     `yaml:"outline_max_level"`
}

type RuntimeConfig struct {
	Dir              string `yaml:"runtime_dir"`
	GeneratedCodeDir string `yaml:"generated_code_dir"`
	ReportsDir       string `yaml:"reports_dir"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"use_cache"`
	Dir     string        `yaml:"cache_dir"`
	TTL     time.Duration `yaml:"cache_ttl"`
	Entries int           `yaml:"cache_entries"`
}

type OutputConfig struct {
	GenerateCode    bool `yaml:"generate_code"`
	WriteReport     bool `yaml:"write_report"`
	IncludeEvidence bool `yaml:"report_include_evidence"`
	IncludeCode     bool `yaml:"report_include_code"`
}

// Defaults returns the configuration used before any file or environment override.
func Defaults() Config {
	return Config{
		Port:             "8090",
		WorkerCount:      2,
		MaxQueueSize:     100,
		JobTTL:           1 * time.Hour,
		MaxQuestionBytes: 64 * 1024,
		Knowledge: KnowledgeConfig{
			BooksDir:               "books",
			Dir:                    "knowledge",
			SummaryLevels:          []int{1, 2},
			MaxCharsPerSummaryCall: 20000,
		},
		Agent: AgentConfig{
			MaxDepth:                      6,
			MaxSelectedNodes:              8,
			MaxSubquestions:               8,
			ChunkSizeChars:                12000,
			ChunkOverlapChars:             400,
			MaxChunksPerNode:              200,
			RequireConfirmIfTotalChunksGE: 80,
			EvidenceWorkers:               1,
			OutlineMaxLevel:               2,
		},
		Runtime: RuntimeConfig{
			Dir:              "runtime",
			GeneratedCodeDir: "generated_code",
			ReportsDir:       "reports",
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     ".cache/oracle",
			TTL:     7 * 24 * time.Hour,
			Entries: 1024,
		},
		Output: OutputConfig{
			GenerateCode: true,
			WriteReport:  true,
			IncludeCode:  true,
		},
	}
}

// Load builds the configuration: .env (best effort), defaults, the YAML
// file at path or $BOOKSAGE_CONFIG, then environment overrides.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path == "" {
		path = os.Getenv("BOOKSAGE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.APIKey = os.Getenv("BOOKSAGE_API_KEY")
	cfg.Port = envOr("PORT", cfg.Port)
	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)
	cfg.MaxQuestionBytes = envInt64("MAX_QUESTION_BYTES", cfg.MaxQuestionBytes)

	cfg.Knowledge.BooksDir = envOr("BOOKS_DIR", cfg.Knowledge.BooksDir)
	cfg.Knowledge.Dir = envOr("KNOWLEDGE_DIR", cfg.Knowledge.Dir)
	cfg.Knowledge.MaxCharsPerSummaryCall = envInt("MAX_CHARS_PER_SUMMARY_CALL", cfg.Knowledge.MaxCharsPerSummaryCall)
	if v := os.Getenv("SUMMARY_LEVELS"); v != "" {
		levels, err := parseLevels(v)
		if err != nil {
			return Config{}, fmt.Errorf("SUMMARY_LEVELS: %w", err)
		}
		cfg.Knowledge.SummaryLevels = levels
	}

	a := &cfg.Agent
	a.MaxDepth = envInt("MAX_DEPTH", a.MaxDepth)
	a.MaxSelectedNodes = envInt("MAX_SELECTED_NODES", a.MaxSelectedNodes)
	a.MaxSubquestions = envInt("MAX_SUBQUESTIONS", a.MaxSubquestions)
	a.StopIfConfidenceGE = envFloat("STOP_IF_CONFIDENCE_GE", a.StopIfConfidenceGE)
	a.ChunkSizeChars = envInt("CHUNK_SIZE_CHARS", a.ChunkSizeChars)
	a.ChunkOverlapChars = envInt("CHUNK_OVERLAP_CHARS", a.ChunkOverlapChars)
	a.MaxChunksPerNode = envInt("MAX_CHUNKS_PER_NODE", a.MaxChunksPerNode)
	a.RequireConfirmIfTotalChunksGE = envInt("REQUIRE_CONFIRM_IF_TOTAL_CHUNKS_GE", a.RequireConfirmIfTotalChunksGE)
	a.EvidenceWorkers = envInt("EVIDENCE_WORKERS", a.EvidenceWorkers)

	cfg.Runtime.Dir = envOr("RUNTIME_DIR", cfg.Runtime.Dir)
	cfg.Runtime.GeneratedCodeDir = envOr("GENERATED_CODE_DIR", cfg.Runtime.GeneratedCodeDir)
	cfg.Runtime.ReportsDir = envOr("REPORTS_DIR", cfg.Runtime.ReportsDir)

	cfg.Cache.Enabled = envBool("USE_CACHE", cfg.Cache.Enabled)
	cfg.Cache.Dir = envOr("CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.TTL = envDuration("CACHE_TTL", cfg.Cache.TTL)

	cfg.applyFallbacks()

	if len(cfg.Providers) == 0 {
		cfg.Providers = defaultProviders()
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	d := Defaults()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.JobTTL <= 0 {
		c.JobTTL = d.JobTTL
	}
	if c.MaxQuestionBytes <= 0 {
		c.MaxQuestionBytes = d.MaxQuestionBytes
	}
	if c.Knowledge.MaxCharsPerSummaryCall <= 0 {
		c.Knowledge.MaxCharsPerSummaryCall = d.Knowledge.MaxCharsPerSummaryCall
	}

	a, da := &c.Agent, d.Agent
	if a.MaxDepth <= 0 {
		a.MaxDepth = da.MaxDepth
	}
	if a.MaxSelectedNodes <= 0 {
		a.MaxSelectedNodes = da.MaxSelectedNodes
	}
	if a.MaxSubquestions <= 0 {
		a.MaxSubquestions = da.MaxSubquestions
	}
	if a.StopIfConfidenceGE < 0 {
		a.StopIfConfidenceGE = 0
	}
	if a.ChunkSizeChars <= 0 {
		a.ChunkSizeChars = da.ChunkSizeChars
	}
	// Zero overlap is valid.
	if a.ChunkOverlapChars < 0 {
		a.ChunkOverlapChars = da.ChunkOverlapChars
	}
	if a.MaxChunksPerNode <= 0 {
		a.MaxChunksPerNode = da.MaxChunksPerNode
	}
	if a.RequireConfirmIfTotalChunksGE < 0 {
		a.RequireConfirmIfTotalChunksGE = 0
	}
	if a.EvidenceWorkers <= 0 {
		a.EvidenceWorkers = da.EvidenceWorkers
	}
	if a.OutlineMaxLevel <= 0 {
		a.OutlineMaxLevel = da.OutlineMaxLevel
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.Cache.Entries <= 0 {
		c.Cache.Entries = d.Cache.Entries
	}
}

// Validate checks settings every entry point that answers questions needs.
func (c Config) Validate() error {
	if err := c.ValidateBuild(); err != nil {
		return err
	}
	if len(c.ActiveProviders()) == 0 {
		return errors.New("no provider has an API key (set ANTHROPIC_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY)")
	}
	return nil
}

// ValidateBuild checks settings without requiring a provider key; building
// knowledge works without one, only summaries are skipped.
func (c Config) ValidateBuild() error {
	if err := c.Agent.ChunkConfig().Validate(); err != nil {
		return err
	}
	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return errors.New("provider without a name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		names[p.Name] = true
	}
	refs := append([]string(nil), c.Router.DefaultPriority...)
	for _, route := range c.Router.Routing {
		refs = append(refs, route.ProviderPriority...)
	}
	for _, name := range refs {
		if !names[name] {
			return fmt.Errorf("routing references unknown provider %q", name)
		}
	}
	return nil
}

// ValidateServer additionally checks settings the HTTP server needs.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return errors.New("BOOKSAGE_API_KEY is required")
	}
	return nil
}

// ActiveProviders returns the providers whose API key resolved.
func (c Config) ActiveProviders() []oracle.ProviderConfig {
	var out []oracle.ProviderConfig
	for _, p := range c.Providers {
		if p.APIKey != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChunkConfig returns the segmenter settings.
func (a AgentConfig) ChunkConfig() chunker.Config {
	return chunker.Config{
		Size:      a.ChunkSizeChars,
		Overlap:   a.ChunkOverlapChars,
		MaxChunks: a.MaxChunksPerNode,
	}
}

// Reasoning returns the loop settings.
func (a AgentConfig) Reasoning() reasoning.Config {
	cfg := reasoning.DefaultConfig()
	cfg.MaxDepth = a.MaxDepth
	cfg.MaxSelectedNodes = a.MaxSelectedNodes
	cfg.MaxSubquestions = a.MaxSubquestions
	cfg.StopIfConfidenceGE = a.StopIfConfidenceGE
	cfg.Chunk = a.ChunkConfig()
	cfg.ConfirmChunksGE = a.RequireConfirmIfTotalChunksGE
	cfg.EvidenceWorkers = a.EvidenceWorkers
	cfg.OutlineMaxLevel = a.OutlineMaxLevel
	return cfg
}

func defaultProviders() []oracle.ProviderConfig {
	return []oracle.ProviderConfig{
		{
			Name:      "anthropic",
			Type:      oracle.TypeAnthropic,
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Models: map[oracle.Role]string{
				oracle.RoleOutline:   envOr("ANTHROPIC_OUTLINE_MODEL", "claude-haiku-4-5"),
				oracle.RoleReasoning: envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
			MaxTokens: 8192,
			Timeout:   5 * time.Minute,
		},
		{
			Name:      "openai",
			Type:      oracle.TypeOpenAI,
			APIKeyEnv: "OPENAI_API_KEY",
			Models: map[oracle.Role]string{
				oracle.RoleOutline:   envOr("OPENAI_OUTLINE_MODEL", "gpt-4o-mini"),
				oracle.RoleReasoning: envOr("OPENAI_MODEL", "gpt-4o"),
			},
			MaxTokens: 8192,
			Timeout:   5 * time.Minute,
		},
		{
			Name:      "gemini",
			Type:      oracle.TypeGemini,
			APIKeyEnv: "GEMINI_API_KEY",
			Models: map[oracle.Role]string{
				oracle.RoleOutline:   envOr("GEMINI_OUTLINE_MODEL", "gemini-2.5-flash"),
				oracle.RoleReasoning: envOr("GEMINI_MODEL", "gemini-2.5-pro"),
			},
			MaxTokens: 8192,
			Timeout:   5 * time.Minute,
		},
	}
}

func parseLevels(v string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid level %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
