// Package config provides configuration loading and validation for the CLI,
// plus the resolved filesystem layout for one run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// DefaultSRID is the spatial reference id used unless overridden.
const DefaultSRID = "3857"

// DefaultSchemaName is the schema osm2pgsql loads into before any rename.
const DefaultSchemaName = "osm"

// BasePathDefault is the project path inside the Docker image.
const BasePathDefault = "/app"

// Config represents one pipeline run's configuration. It can be loaded from
// a JSON file; missing values use defaults or must be provided via CLI
// flags. Once merged and validated it is never mutated.
type Config struct {
	// Data selection
	Region    string `json:"region,omitempty"`    // Geofabrik region, e.g. north-america/us
	Subregion string `json:"subregion,omitempty"` // Geofabrik subregion, e.g. district-of-columbia
	PgosmDate string `json:"pgosm_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	InputFile string `json:"input_file,omitempty"` // Pre-supplied PBF path, bypasses acquisition

	// Import parameters
	Layerset     string  `json:"layerset,omitempty"`
	LayersetPath string  `json:"layerset_path,omitempty"`                 // Custom layerset INI directory
	RAM          float64 `json:"ram,omitempty" validate:"omitempty,gt=0"` // Server RAM in GB
	SRID         string  `json:"srid,omitempty" validate:"omitempty,numeric"`
	Language     string  `json:"language,omitempty"`
	SchemaName   string  `json:"schema_name,omitempty"`

	// Behavior
	SkipNested bool   `json:"skip_nested,omitempty"`
	DataOnly   bool   `json:"data_only,omitempty"`
	SkipDump   bool   `json:"skip_dump,omitempty"`
	Debug      bool   `json:"debug,omitempty"`
	BasePath   string `json:"basepath,omitempty"`
	ConnStr    string `json:"conn_str,omitempty"` // External database connection string
}

// LoadConfig loads configuration from a JSON file, validating it against the
// embedded schema first. Returns an error if the file cannot be read,
// violates the schema, or cannot be parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks value formats on the merged configuration. Required-field
// checks happen after merging, in the run command.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.InputFile != "" {
		if _, err := os.Stat(c.InputFile); os.IsNotExist(err) {
			return fmt.Errorf("config error: input file not found: %s", c.InputFile)
		}
	}
	if c.LayersetPath != "" {
		if _, err := os.Stat(c.LayersetPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: layerset path not found: %s", c.LayersetPath)
		}
	}
	return nil
}

// MergeWithDefaults returns a new Config with unset fields filled from
// defaults. Bool fields are not merged; CLI flags always win for bools.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Region == "" {
		result.Region = defaults.Region
	}
	if result.Subregion == "" {
		result.Subregion = defaults.Subregion
	}
	if result.PgosmDate == "" {
		result.PgosmDate = defaults.PgosmDate
	}
	if result.Layerset == "" {
		result.Layerset = defaults.Layerset
	}
	if result.LayersetPath == "" {
		result.LayersetPath = defaults.LayersetPath
	}
	if result.SRID == "" {
		result.SRID = defaults.SRID
	}
	if result.Language == "" {
		result.Language = defaults.Language
	}
	if result.SchemaName == "" {
		result.SchemaName = defaults.SchemaName
	}
	if result.BasePath == "" {
		result.BasePath = defaults.BasePath
	}
	if result.InputFile == "" {
		result.InputFile = defaults.InputFile
	}
	if result.ConnStr == "" {
		result.ConnStr = defaults.ConnStr
	}
	if result.RAM == 0 {
		result.RAM = defaults.RAM
	}

	return result
}
