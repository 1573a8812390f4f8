package orchestrator

import "time"

const (
	DefaultMaxSubagents = 3
	DefaultMaxResults   = 10
	maxIterationCap     = 6
)

// Config tunes a run. Zero values take the defaults from withDefaults.
type Config struct {
	// MaxSubagents bounds both the continuation heuristic and, unless
	// WorkerCap is set, the number of subagents running at once.
	MaxSubagents int `mapstructure:"max_subagents"`
	// MaxSubTasks bounds the plan size.
	MaxSubTasks int `mapstructure:"max_subtasks"`
	WorkerCap   int `mapstructure:"worker_cap"`
	// MaxResults is the per-query search result limit.
	MaxResults int `mapstructure:"max_results"`
	// CallTimeout applies to each completion and search call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// MaxDuration stops further rounds once exceeded. Zero means unlimited.
	MaxDuration       time.Duration `mapstructure:"max_duration"`
	MemoryLimitTokens int           `mapstructure:"memory_limit_tokens"`
	SaveReports       bool          `mapstructure:"save_reports"`
	CompanyIndustry   string        `mapstructure:"company_industry"`
	CompanyYear       string        `mapstructure:"company_year"`
}

func (c Config) withDefaults() Config {
	if c.MaxSubagents <= 0 {
		c.MaxSubagents = DefaultMaxSubagents
	}
	if c.MaxSubTasks <= 0 {
		c.MaxSubTasks = c.MaxSubagents
	}
	if c.WorkerCap <= 0 {
		c.WorkerCap = c.MaxSubagents
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}
