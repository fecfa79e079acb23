// Package config holds the typed simulator configuration, loaded from YAML
// with environment overrides for secrets. All validation happens at startup
// through Validate, never at call sites.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/brickwellhealth/simulator/core"
	"github.com/brickwellhealth/simulator/core/processes"
	"github.com/brickwellhealth/simulator/streaming"
)

const (
	// AdapterPGX selects the native pgx pool with COPY protocol support.
	AdapterPGX = "pgx"

	// AdapterSQLX selects sqlx over lib/pq.
	AdapterSQLX = "sqlx"

	// AdapterSQL selects database/sql over lib/pq.
	AdapterSQL = "sql"
)

var (
	// ErrInvalidConfig wraps every validation failure found at startup.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConfigNotFound occurs when the named configuration file is missing.
	ErrConfigNotFound = errors.New("configuration file not found")
)

// Config is the root simulator configuration.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Database   DatabaseConfig   `yaml:"database"`
	Parallel   ParallelConfig   `yaml:"parallel"`
	Streaming  StreamingConfig  `yaml:"streaming"`
	Processes  ProcessesConfig  `yaml:"processes"`
	Triggers   TriggersConfig   `yaml:"triggers"`
	Seed       uint64           `yaml:"seed"`
}

// SimulationConfig bounds the simulated time range. Dates are inclusive of
// the start and exclusive of the end, formatted as YYYY-MM-DD.
type SimulationConfig struct {
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

// Dates parses the configured range. Validate must have passed first.
func (c SimulationConfig) Dates() (time.Time, time.Time, error) {
	start, err := time.Parse(time.DateOnly, c.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date: %w", err)
	}

	end, err := time.Parse(time.DateOnly, c.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
	}

	return start, end, nil
}

// DatabaseConfig carries the PostgreSQL connection settings shared by all
// workers. The password is normally supplied through the environment.
type DatabaseConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	SSLMode   string `yaml:"ssl_mode"`
	Adapter   string `yaml:"adapter"`
	PoolSize  int    `yaml:"pool_size"`
	BatchSize int    `yaml:"batch_size"`
}

// DSN builds the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}

	return u.String()
}

// ParallelConfig carries the multi-worker run settings.
type ParallelConfig struct {
	Workers                   int    `yaml:"workers"`
	CheckpointIntervalMinutes int    `yaml:"checkpoint_interval_minutes"`
	CheckpointDir             string `yaml:"checkpoint_dir"`
	StatsDir                  string `yaml:"stats_dir"`
}

// CheckpointInterval returns the wall-clock interval between checkpoints.
func (c ParallelConfig) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalMinutes) * time.Minute
}

// StreamingConfig carries the change-event streaming settings.
type StreamingConfig struct {
	Backend              string            `yaml:"backend"`
	Tables               []string          `yaml:"tables"`
	TopicStrategy        string            `yaml:"topic_strategy"`
	TopicPrefix          string            `yaml:"topic_prefix"`
	TopicMapping         map[string]string `yaml:"topic_mapping"`
	FailOpen             bool              `yaml:"fail_open"`
	FlushIntervalSeconds int               `yaml:"flush_interval_seconds"`
	BatchSize            int               `yaml:"batch_size"`
	OutputDir            string            `yaml:"output_dir"`
	ZeroBus              ZeroBusConfig     `yaml:"zerobus"`
}

// ZeroBusConfig carries the managed ingest service settings. Client
// credentials are normally supplied through the environment.
type ZeroBusConfig struct {
	WorkspaceID   string `yaml:"workspace_id"`
	WorkspaceURL  string `yaml:"workspace_url"`
	Region        string `yaml:"region"`
	Catalog       string `yaml:"catalog"`
	SchemaName    string `yaml:"schema"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	TokenCacheDir string `yaml:"token_cache_dir"`
}

// ToStreaming maps the section onto the streaming package's config.
func (c StreamingConfig) ToStreaming() streaming.Config {
	return streaming.Config{
		Backend:       c.Backend,
		Tables:        c.Tables,
		TopicStrategy: c.TopicStrategy,
		TopicPrefix:   c.TopicPrefix,
		TopicMapping:  c.TopicMapping,
		FailOpen:      c.FailOpen,
		FlushInterval: time.Duration(c.FlushIntervalSeconds) * time.Second,
		BatchSize:     c.BatchSize,
		OutputDir:     c.OutputDir,
		ZeroBus: streaming.ZeroBusConfig{
			WorkspaceID:   c.ZeroBus.WorkspaceID,
			WorkspaceURL:  c.ZeroBus.WorkspaceURL,
			Region:        c.ZeroBus.Region,
			Catalog:       c.ZeroBus.Catalog,
			SchemaName:    c.ZeroBus.SchemaName,
			ClientID:      c.ZeroBus.ClientID,
			ClientSecret:  c.ZeroBus.ClientSecret,
			TokenCacheDir: c.ZeroBus.TokenCacheDir,
		},
	}
}

// Enabled reports whether change events leave the process at all.
func (c StreamingConfig) Enabled() bool {
	return c.Backend != "" && c.Backend != streaming.BackendNoop
}

// ProcessesConfig tunes the logical processes. Zero values fall through to
// the process defaults.
type ProcessesConfig struct {
	Policy PolicyTuning `yaml:"policy"`
	Claims ClaimsTuning `yaml:"claims"`
	CRM    CRMTuning    `yaml:"crm"`
	Survey SurveyTuning `yaml:"survey"`
}

// PolicyTuning covers acquisition, billing, and the arrears ladder.
type PolicyTuning struct {
	DailyAcquisitions  float64 `yaml:"daily_acquisitions"`
	PaymentSuccessRate float64 `yaml:"payment_success_rate"`
	MaxDebitRetries    int     `yaml:"max_debit_retries"`
	RetryIntervalDays  int     `yaml:"retry_interval_days"`
	DaysToArrears      int     `yaml:"days_to_arrears"`
	DaysToSuspension   int     `yaml:"days_to_suspension"`
	DaysToLapse        int     `yaml:"days_to_lapse"`
}

// ClaimsTuning covers the claim pipeline.
type ClaimsTuning struct {
	ClaimsPerMemberYear float64 `yaml:"claims_per_member_year"`
	ApprovalRate        float64 `yaml:"approval_rate"`
	DelayNoticeDays     int     `yaml:"delay_notice_days"`
}

// CRMTuning covers interactions, cases, and complaints.
type CRMTuning struct {
	BaselineInteractionsPerMemberYear float64 `yaml:"baseline_interactions_per_member_year"`
	FirstContactResolutionRate        float64 `yaml:"first_contact_resolution_rate"`
	CaseSLABreachRate                 float64 `yaml:"case_sla_breach_rate"`
	PHIOEscalationRate                float64 `yaml:"phio_escalation_rate"`
}

// SurveyTuning covers invitation behavior.
type SurveyTuning struct {
	FatigueDays        int     `yaml:"fatigue_days"`
	AnniversaryNPSRate float64 `yaml:"anniversary_nps_rate"`
}

// TriggersConfig tunes the trigger engine and journey tracking.
type TriggersConfig struct {
	// Overrides replaces fixed probabilities in the trigger matrix, keyed by
	// source event then target action.
	Overrides map[string]map[string]float64 `yaml:"overrides"`

	CaseChargeThreshold      float64 `yaml:"case_charge_threshold"`
	ComplaintChargeThreshold float64 `yaml:"complaint_charge_threshold"`
	JourneyMergeWindowDays   int     `yaml:"journey_merge_window_days"`
	JourneyTimeoutDays       int     `yaml:"journey_timeout_days"`
}

// PolicyProcess maps the tuning sections onto the policy process config.
func (c Config) PolicyProcess() processes.PolicyConfig {
	return processes.PolicyConfig{
		DailyAcquisitions:  c.Processes.Policy.DailyAcquisitions,
		PaymentSuccessRate: c.Processes.Policy.PaymentSuccessRate,
		MaxDebitRetries:    c.Processes.Policy.MaxDebitRetries,
		RetryIntervalDays:  c.Processes.Policy.RetryIntervalDays,
		DaysToArrears:      c.Processes.Policy.DaysToArrears,
		DaysToSuspension:   c.Processes.Policy.DaysToSuspension,
		DaysToLapse:        c.Processes.Policy.DaysToLapse,
	}
}

// ClaimsProcess maps the tuning sections onto the claims process config.
func (c Config) ClaimsProcess() processes.ClaimsConfig {
	return processes.ClaimsConfig{
		ClaimsPerMemberYear: c.Processes.Claims.ClaimsPerMemberYear,
		ApprovalRate:        c.Processes.Claims.ApprovalRate,
		DelayNoticeDays:     c.Processes.Claims.DelayNoticeDays,
	}
}

// CRMProcess maps the tuning sections onto the CRM process config.
func (c Config) CRMProcess() processes.CRMConfig {
	return processes.CRMConfig{
		MergeWindowDays:                   c.Triggers.JourneyMergeWindowDays,
		JourneyTimeoutDays:                c.Triggers.JourneyTimeoutDays,
		BaselineInteractionsPerMemberYear: c.Processes.CRM.BaselineInteractionsPerMemberYear,
		FirstContactResolutionRate:        c.Processes.CRM.FirstContactResolutionRate,
		CaseSLABreachRate:                 c.Processes.CRM.CaseSLABreachRate,
		PHIOEscalationRate:                c.Processes.CRM.PHIOEscalationRate,
	}
}

// SurveyProcess maps the tuning sections onto the survey process config.
func (c Config) SurveyProcess() processes.SurveyConfig {
	return processes.SurveyConfig{
		FatigueDays:        c.Processes.Survey.FatigueDays,
		AnniversaryNPSRate: c.Processes.Survey.AnniversaryNPSRate,
	}
}

// TriggerOverrides returns the matrix overrides in the engine's type.
func (c Config) TriggerOverrides() core.TriggerOverrides {
	return core.TriggerOverrides(c.Triggers.Overrides)
}

// Default returns the configuration used when a section or field is absent
// from the YAML file.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			StartDate: "2024-01-01",
			EndDate:   "2025-01-01",
		},
		Database: DatabaseConfig{
			Host:      "localhost",
			Port:      5432,
			Database:  "brickwell_health",
			Username:  "brickwell",
			SSLMode:   "disable",
			Adapter:   AdapterPGX,
			PoolSize:  5,
			BatchSize: 10000,
		},
		Parallel: ParallelConfig{
			Workers:                   4,
			CheckpointIntervalMinutes: 15,
			CheckpointDir:             "checkpoints",
			StatsDir:                  "stats",
		},
		Streaming: StreamingConfig{
			Backend:              streaming.BackendNoop,
			TopicStrategy:        "per_table",
			FlushIntervalSeconds: 5,
			BatchSize:            100,
			FailOpen:             true,
		},
		Seed: 42,
	}
}

// Validate checks the whole configuration and reports every problem found,
// not just the first.
func (c Config) Validate() error {
	var problems []error

	start, end, err := c.Simulation.Dates()
	if err != nil {
		problems = append(problems, err)
	} else if !end.After(start) {
		problems = append(problems, errors.New("simulation: end_date must be after start_date"))
	}

	switch c.Database.Adapter {
	case AdapterPGX, AdapterSQLX, AdapterSQL:
	default:
		problems = append(problems, fmt.Errorf("database: unknown adapter %q", c.Database.Adapter))
	}
	if c.Database.Host == "" {
		problems = append(problems, errors.New("database: host is required"))
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, fmt.Errorf("database: invalid port %d", c.Database.Port))
	}
	if c.Database.BatchSize <= 0 {
		problems = append(problems, errors.New("database: batch_size must be positive"))
	}

	if c.Parallel.Workers < 1 {
		problems = append(problems, fmt.Errorf("parallel: workers must be at least 1, got %d", c.Parallel.Workers))
	}
	if c.Parallel.CheckpointIntervalMinutes < 0 {
		problems = append(problems, errors.New("parallel: checkpoint_interval_minutes must not be negative"))
	}

	problems = append(problems, c.validateStreaming()...)

	if len(problems) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, problems...)...)
	}

	return nil
}

func (c Config) validateStreaming() []error {
	var problems []error

	switch c.Streaming.Backend {
	case "", streaming.BackendNoop, streaming.BackendLog, streaming.BackendMemory:
	case streaming.BackendJSONFile:
		if c.Streaming.OutputDir == "" {
			problems = append(problems, errors.New("streaming: output_dir is required for the json_file backend"))
		}
	case streaming.BackendZeroBus:
		zb := c.Streaming.ZeroBus
		if zb.WorkspaceURL == "" && (zb.WorkspaceID == "" || zb.Region == "") {
			problems = append(problems, errors.New("streaming: zerobus needs workspace_url, or workspace_id and region"))
		}
		if zb.ClientID == "" || zb.ClientSecret == "" {
			problems = append(problems, errors.New("streaming: zerobus client credentials are required"))
		}
		if zb.Catalog == "" || zb.SchemaName == "" {
			problems = append(problems, errors.New("streaming: zerobus catalog and schema are required"))
		}
	default:
		problems = append(problems, fmt.Errorf("streaming: unknown backend %q", c.Streaming.Backend))
	}

	if c.Streaming.Enabled() && len(c.Streaming.Tables) == 0 {
		problems = append(problems, errors.New("streaming: tables must name at least one table when streaming is enabled"))
	}

	return problems
}
