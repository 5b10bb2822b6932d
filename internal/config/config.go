// Package config loads pipeline configuration from a config file plus CLI
// flag overrides, grounded on the teacher's viper+pflag usage (go-core
// config loading) and spec.md §6.1's named configuration values.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/model"
	"github.com/AfricasVoices/Engagement-Data-Pipeline/internal/reconcile"
)

// Pipeline is the run configuration every cmd/pipeline subcommand loads
// before doing any work.
type Pipeline struct {
	DryRun                          bool   `mapstructure:"dry_run"`
	IncrementalCachePath            string `mapstructure:"incremental_cache_path"`
	SkipUpdatingCodaUsersAndSchemes bool   `mapstructure:"skip_updating_coda_users_and_code_schemes"`
	IgnoreInvalidIdentifiers        bool   `mapstructure:"ignore_invalid_identifiers"`

	DatabaseURL string `mapstructure:"database_url"`
	NATSURL     string `mapstructure:"nats_url"`

	VaultAddress string `mapstructure:"vault_address"`
	VaultToken   string `mapstructure:"vault_token"`
	// DatabaseSecretPath, when set alongside VaultAddress/VaultToken, names
	// a Vault KV2 path holding a "database_url" field that overrides
	// DatabaseURL at load time, the credential-resolution seam spec.md §1
	// keeps out of scope as concrete glue but still names as an external
	// collaborator.
	DatabaseSecretPath string `mapstructure:"database_secret_path"`

	// PipelineName, ProjectStartDate/ProjectEndDate and FilterTestMessages
	// are the remaining scalar values from spec.md §6.1's "pipeline
	// configuration" input that don't belong to a sync stage's engine
	// config, but every stage still wants them available (logging,
	// filtering test participants out of analysis).
	PipelineName         string   `mapstructure:"pipeline_name"`
	TestParticipantUUIDs []string `mapstructure:"test_participant_uuids"`
	ProjectStartDate     string   `mapstructure:"project_start_date"`
	ProjectEndDate       string   `mapstructure:"project_end_date"`
	FilterTestMessages   bool     `mapstructure:"filter_test_messages"`

	Datasets []DatasetDefinition `mapstructure:"datasets"`
	// WSCorrectScheme is the distinguished WS-Correct-Dataset scheme (spec
	// §3.1), named "coding" rather than "engagement_db" configuration
	// because it is shared by both the back-sync and reconcile stages.
	WSCorrectScheme             CodeSchemeDefinition `mapstructure:"ws_correct_scheme"`
	DefaultWSDataset            string               `mapstructure:"default_ws_dataset"`
	SetDatasetFromWSStringValue bool                 `mapstructure:"set_dataset_from_ws_string_value"`

	Analysis []AnalysisColumnDefinition `mapstructure:"analysis"`

	// Sources lists the configured upstream source instances (component D):
	// one entry per (kind, dataset) pair the ingest subcommands can run.
	Sources []SourceDefinition `mapstructure:"sources"`
}

// SourceDefinition configures one upstream source adapter instance (spec.md
// §6.1's flow platform / web form / group messenger inputs), resolved by
// cmd/pipeline into the matching sources/* Client against Kind and Dataset.
type SourceDefinition struct {
	Kind    string `mapstructure:"kind"` // "flowplatform" | "webform" | "groupcrawler"
	Dataset string `mapstructure:"dataset"`

	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`

	// flow_platform
	FlowName    string `mapstructure:"flow_name"`
	ResultField string `mapstructure:"result_field"`

	// web_form
	FormID       string `mapstructure:"form_id"`
	QuestionName string `mapstructure:"question_name"`

	// group_crawler
	ChannelID string `mapstructure:"channel_id"`

	IgnoreInvalidIdentifiers bool `mapstructure:"ignore_invalid_identifiers"`
}

// SourceConfig returns the configured source instance of the given kind for
// dataset, reporting ok=false if none is configured.
func (p Pipeline) SourceConfig(kind, dataset string) (SourceDefinition, bool) {
	for _, s := range p.Sources {
		if s.Kind == kind && s.Dataset == dataset {
			return s, true
		}
	}
	return SourceDefinition{}, false
}

// CodeDefinition is one CodeScheme entry as it appears in a configuration
// file, unmarshalled by viper/mapstructure straight off the YAML/JSON
// values spec.md §6.1 calls "values, not syntax".
type CodeDefinition struct {
	CodeID       string   `mapstructure:"code_id"`
	CodeType     string   `mapstructure:"code_type"`
	ControlCode  string   `mapstructure:"control_code"`
	MetaCode     string   `mapstructure:"meta_code"`
	MatchValues  []string `mapstructure:"match_values"`
	StringValue  string   `mapstructure:"string_value"`
	NumericValue *float64 `mapstructure:"numeric_value"`
}

// CodeSchemeDefinition is one CodeScheme entry as configured.
type CodeSchemeDefinition struct {
	SchemeID string           `mapstructure:"scheme_id"`
	Codes    []CodeDefinition `mapstructure:"codes"`
}

// ToModel converts a configured scheme into model.CodeScheme.
func (d CodeSchemeDefinition) ToModel() model.CodeScheme {
	codes := make([]model.Code, len(d.Codes))
	for i, c := range d.Codes {
		codes[i] = model.Code{
			CodeID:       c.CodeID,
			CodeType:     model.CodeType(c.CodeType),
			ControlCode:  c.ControlCode,
			MetaCode:     c.MetaCode,
			MatchValues:  c.MatchValues,
			StringValue:  c.StringValue,
			NumericValue: c.NumericValue,
		}
	}
	return model.CodeScheme{SchemeID: d.SchemeID, Codes: codes}
}

// DatasetDefinition is one (engagement_dataset, coding_dataset) pair's
// configuration (spec.md §4.G), as it appears in a configuration file.
// AutoCoders cannot be expressed as configuration values (they are pure
// functions), so a configured dataset always resolves to an empty
// AutoCoders list; a deployment that needs them constructs
// model.PipelineConfig directly rather than through this loader.
type DatasetDefinition struct {
	DatasetName      string               `mapstructure:"dataset_name"`
	CodeScheme       CodeSchemeDefinition `mapstructure:"code_scheme"`
	WSCodeMatchValue string               `mapstructure:"ws_code_match_value"`
	WSStringValue    string               `mapstructure:"ws_string_value"`

	// UserIDs and SchemeCopies are only consumed by the reconcile stage
	// (component I); every other stage ignores them.
	UserIDs      []string `mapstructure:"user_ids"`
	SchemeCopies int      `mapstructure:"scheme_copies"`
}

// ToModel converts a configured dataset into model.DatasetConfig.
func (d DatasetDefinition) ToModel() model.DatasetConfig {
	return model.DatasetConfig{
		DatasetName:      d.DatasetName,
		CodeScheme:       d.CodeScheme.ToModel(),
		WSCodeMatchValue: d.WSCodeMatchValue,
		WSStringValue:    d.WSStringValue,
	}
}

// CodingConfigDefinition names one scheme an analysis column draws labels
// from.
type CodingConfigDefinition struct {
	SchemeID string               `mapstructure:"scheme_id"`
	Scheme   CodeSchemeDefinition `mapstructure:"scheme"`
}

// AnalysisColumnDefinition is one analysis-dataset column configuration
// (spec.md §4.K), as it appears in a configuration file.
type AnalysisColumnDefinition struct {
	ColumnName           string                    `mapstructure:"column_name"`
	EngagementDBDatasets []string                  `mapstructure:"engagement_db_datasets"`
	DatasetType          string                    `mapstructure:"dataset_type"`
	RawField             string                    `mapstructure:"raw_field"`
	CodingConfigs        []CodingConfigDefinition  `mapstructure:"coding_configs"`
}

// ToModel converts a configured analysis column into
// model.AnalysisDatasetConfig.
func (d AnalysisColumnDefinition) ToModel() model.AnalysisDatasetConfig {
	configs := make([]model.CodingConfig, len(d.CodingConfigs))
	for i, c := range d.CodingConfigs {
		configs[i] = model.CodingConfig{SchemeID: c.SchemeID, Scheme: c.Scheme.ToModel()}
	}
	return model.AnalysisDatasetConfig{
		ColumnName:           d.ColumnName,
		EngagementDBDatasets: d.EngagementDBDatasets,
		DatasetType:          model.AnalysisDatasetType(d.DatasetType),
		RawField:             d.RawField,
		CodingConfigs:        configs,
	}
}

// PipelineConfig builds the model.PipelineConfig every sync engine needs
// out of the loaded configuration's dataset and WS-correct-scheme values.
func (p Pipeline) PipelineConfig() model.PipelineConfig {
	datasets := make([]model.DatasetConfig, len(p.Datasets))
	for i, d := range p.Datasets {
		datasets[i] = d.ToModel()
	}
	return model.PipelineConfig{
		Datasets:                    datasets,
		WSCorrectScheme:             p.WSCorrectScheme.ToModel(),
		DefaultWSDataset:            p.DefaultWSDataset,
		SetDatasetFromWSStringValue: p.SetDatasetFromWSStringValue,
	}
}

// AnalysisDatasetConfigs builds the column configuration
// internal/columnview projects against out of the loaded configuration.
func (p Pipeline) AnalysisDatasetConfigs() []model.AnalysisDatasetConfig {
	cfgs := make([]model.AnalysisDatasetConfig, len(p.Analysis))
	for i, a := range p.Analysis {
		cfgs[i] = a.ToModel()
	}
	return cfgs
}

// ReconcileConfig builds the reconcile.DatasetReconcileConfig for the named
// dataset out of the loaded configuration, reporting ok=false if no dataset
// configuration with that name was loaded.
func (p Pipeline) ReconcileConfig(dataset string) (reconcile.DatasetReconcileConfig, bool) {
	for _, d := range p.Datasets {
		if d.DatasetName != dataset {
			continue
		}
		cfg := reconcile.DatasetReconcileConfig{
			Dataset:      dataset,
			UserIDs:      d.UserIDs,
			BaseScheme:   d.CodeScheme.ToModel(),
			SchemeCopies: d.SchemeCopies,
		}
		if p.WSCorrectScheme.SchemeID != "" {
			ws := p.WSCorrectScheme.ToModel()
			cfg.WSCorrectScheme = &ws
		}
		return cfg, true
	}
	return reconcile.DatasetReconcileConfig{}, false
}

// RegisterFlags binds the CLI overrides named in spec.md §6.3 onto fs, for
// a cobra command's PersistentFlags/Flags set.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Bool("dry-run", false, "compute the sync but do not write any changes")
	fs.String("incremental-cache-path", "", "directory holding the incremental watermark/message cache")
	fs.Bool("skip-updating-coda-users-and-code-schemes", false, "make the reconcile command skip updating coding-tool users and code schemes")
}

// Load reads configFile (if non-empty) and layers in any flags set on fs,
// flags taking precedence over file values.
func Load(configFile string, fs *pflag.FlagSet) (Pipeline, error) {
	v := viper.New()
	v.SetEnvPrefix("ENGAGEMENT_PIPELINE")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Pipeline{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlag("dry_run", fs.Lookup("dry-run")); err != nil {
			return Pipeline{}, fmt.Errorf("config: bind dry-run: %w", err)
		}
		if err := v.BindPFlag("incremental_cache_path", fs.Lookup("incremental-cache-path")); err != nil {
			return Pipeline{}, fmt.Errorf("config: bind incremental-cache-path: %w", err)
		}
		if err := v.BindPFlag("skip_updating_coda_users_and_code_schemes", fs.Lookup("skip-updating-coda-users-and-code-schemes")); err != nil {
			return Pipeline{}, fmt.Errorf("config: bind skip-updating flag: %w", err)
		}
	}

	var cfg Pipeline
	if err := v.Unmarshal(&cfg); err != nil {
		return Pipeline{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.IncrementalCachePath == "" {
		return Pipeline{}, fmt.Errorf("config: incremental_cache_path is required")
	}

	if cfg.VaultAddress != "" && cfg.DatabaseSecretPath != "" {
		secrets, err := NewSecretManager(cfg.VaultAddress, cfg.VaultToken)
		if err != nil {
			return Pipeline{}, fmt.Errorf("config: init vault client: %w", err)
		}
		dbURL, err := secrets.GetString(cfg.DatabaseSecretPath, "database_url")
		if err != nil {
			return Pipeline{}, fmt.Errorf("config: resolve database credentials from vault: %w", err)
		}
		cfg.DatabaseURL = dbURL
	}

	return cfg, nil
}
