package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// Options tune a single data-entry or collection run.
type Options struct {
	AutoSync           bool                   `json:"autoSync"`
	ValidationLevel    ValidationLevel        `json:"validationLevel" validate:"omitempty,oneof=strict lenient"`
	ConflictResolution model.ConflictStrategy `json:"conflictResolution" validate:"omitempty,oneof=smart timestamp manual"`
	BatchSize          int                    `json:"batchSize" validate:"gte=0,lte=1000"`
}

// Default option values.
const (
	DefaultBatchSize       = 25
	DefaultValidationLevel = LevelStrict
	DefaultConflictPolicy  = model.ResolveSmart
)

// DefaultOptions returns autoSync on, strict validation, smart conflict
// resolution and batches of 25.
func DefaultOptions() Options {
	return Options{
		AutoSync:           true,
		ValidationLevel:    DefaultValidationLevel,
		ConflictResolution: DefaultConflictPolicy,
		BatchSize:          DefaultBatchSize,
	}
}

// withDefaults fills empty fields. AutoSync is taken as given.
func (o Options) withDefaults() Options {
	if o.ValidationLevel == "" {
		o.ValidationLevel = DefaultValidationLevel
	}
	if o.ConflictResolution == "" {
		o.ConflictResolution = DefaultConflictPolicy
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// Settings is the engine's configuration surface.
type Settings struct {
	AutoCollection AutoCollectionSettings `json:"autoCollection"`
	RealTimeSync   RealTimeSyncSettings   `json:"realTimeSync"`
	SmartMapping   SmartMappingSettings   `json:"smartMapping"`
	Workflows      WorkflowSettings       `json:"workflows"`
}

// AutoCollectionSettings selects the sources watched for new documents.
type AutoCollectionSettings struct {
	Sources      []string      `json:"sources"`
	PollInterval time.Duration `json:"-"`
}

// RealTimeSyncSettings configures the reconciliation loop.
type RealTimeSyncSettings struct {
	Enabled            bool                   `json:"enabled"`
	Interval           time.Duration          `json:"-"`
	BatchSize          int                    `json:"batchSize"`
	RetryAttempts      int                    `json:"retryAttempts"`
	ConflictResolution model.ConflictStrategy `json:"conflictResolution"`
}

// MarshalJSON reports the interval in milliseconds.
func (s RealTimeSyncSettings) MarshalJSON() ([]byte, error) {
	type plain RealTimeSyncSettings
	return json.Marshal(struct {
		plain
		IntervalMS int64 `json:"interval"`
	}{plain(s), s.Interval.Milliseconds()})
}

// SmartMappingSettings holds the mapping accuracy target. It is informational.
type SmartMappingSettings struct {
	Accuracy float64 `json:"accuracy"`
}

// WorkflowSettings holds feature toggles and defaults for workflow runs.
type WorkflowSettings struct {
	AutoCollection  bool            `json:"autoCollection"`
	DataEntry       bool            `json:"dataEntry"`
	Reconciliation  bool            `json:"reconciliation"`
	BatchSize       int             `json:"batchSize"`
	ValidationLevel ValidationLevel `json:"validationLevel"`
	MaxConcurrent   int             `json:"maxConcurrent"`
	BatchPause      time.Duration   `json:"-"`
	HistorySize     int             `json:"historySize"`
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		AutoCollection: AutoCollectionSettings{
			PollInterval: 30 * time.Second,
		},
		RealTimeSync: RealTimeSyncSettings{
			Enabled:            true,
			Interval:           30 * time.Second,
			BatchSize:          50,
			RetryAttempts:      3,
			ConflictResolution: model.ResolveSmart,
		},
		SmartMapping: SmartMappingSettings{Accuracy: 0.95},
		Workflows: WorkflowSettings{
			AutoCollection:  true,
			DataEntry:       true,
			Reconciliation:  true,
			BatchSize:       DefaultBatchSize,
			ValidationLevel: DefaultValidationLevel,
			MaxConcurrent:   DefaultMaxConcurrentWorkflows,
			BatchPause:      100 * time.Millisecond,
			HistorySize:     100,
		},
	}
}

// withDefaults replaces zero numeric values with defaults.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.AutoCollection.PollInterval <= 0 {
		s.AutoCollection.PollInterval = d.AutoCollection.PollInterval
	}
	if s.RealTimeSync.Interval <= 0 {
		s.RealTimeSync.Interval = d.RealTimeSync.Interval
	}
	if s.RealTimeSync.BatchSize <= 0 {
		s.RealTimeSync.BatchSize = d.RealTimeSync.BatchSize
	}
	if s.RealTimeSync.RetryAttempts <= 0 {
		s.RealTimeSync.RetryAttempts = d.RealTimeSync.RetryAttempts
	}
	if !s.RealTimeSync.ConflictResolution.Valid() {
		s.RealTimeSync.ConflictResolution = d.RealTimeSync.ConflictResolution
	}
	if s.Workflows.BatchSize <= 0 {
		s.Workflows.BatchSize = d.Workflows.BatchSize
	}
	if !s.Workflows.ValidationLevel.Valid() {
		s.Workflows.ValidationLevel = d.Workflows.ValidationLevel
	}
	if s.Workflows.MaxConcurrent <= 0 {
		s.Workflows.MaxConcurrent = d.Workflows.MaxConcurrent
	}
	if s.Workflows.BatchPause < 0 {
		s.Workflows.BatchPause = 0
	}
	if s.Workflows.HistorySize <= 0 {
		s.Workflows.HistorySize = d.Workflows.HistorySize
	}
	return s
}

var validate = validator.New()

// validateStruct runs struct tag validation and reports every failing field.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(parts, ", "))
}
