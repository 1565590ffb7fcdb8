package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacopofar/pgosm-flex/internal/acquire"
	"github.com/jacopofar/pgosm-flex/internal/config"
	"github.com/jacopofar/pgosm-flex/internal/naming"
	"github.com/jacopofar/pgosm-flex/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the full OpenStreetMap import pipeline end-to-end",
	Long: `Orchestrates the entire import process: acquisition -> database readiness -> schema preparation -> osm2pgsql -> post-processing -> export.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values; PGOSM_* environment variables fill in values not set either way.`,
	RunE: runPipelineCmd,
}

var (
	runConfigPath   string
	runRegion       string
	runSubregion    string
	runPgosmDate    string
	runInputFile    string
	runLayerset     string
	runLayersetPath string
	runRAM          float64
	runSRID         string
	runLanguage     string
	runSchemaName   string
	runSkipNested   bool
	runDataOnly     bool
	runSkipDump     bool
	runDebug        bool
	runBasePath     string
	runConnStr      string
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	runCommand.Flags().StringVar(&runRegion, "region", "", "Geofabrik region, e.g. north-america/us (mutually exclusive with --input-file)")
	runCommand.Flags().StringVar(&runSubregion, "subregion", "", "Geofabrik subregion, e.g. district-of-columbia")
	runCommand.Flags().StringVar(&runPgosmDate, "pgosm-date", "", "Date of the data to import, yyyy-mm-dd (defaults to today; historical dates require an archived file)")
	runCommand.Flags().StringVar(&runInputFile, "input-file", "", "Path to a local .osm.pbf file, skips download (mutually exclusive with --region)")
	runCommand.Flags().StringVar(&runLayerset, "layerset", "", "Layerset to load (default \"default\")")
	runCommand.Flags().StringVar(&runLayersetPath, "layerset-path", "", "Directory with custom layerset definitions")
	runCommand.Flags().Float64Var(&runRAM, "ram", 0, "Total system RAM in GB available to osm2pgsql and Postgres")
	runCommand.Flags().StringVar(&runSRID, "srid", "", "Target SRID for imported geometries (default 3857)")
	runCommand.Flags().StringVar(&runLanguage, "language", "", "Preferred language for OSM name tags")
	runCommand.Flags().StringVar(&runSchemaName, "schema-name", "", "Rename the osm schema to this name before export")
	runCommand.Flags().BoolVar(&runSkipNested, "skip-nested", false, "Skip calculating nested admin polygons")
	runCommand.Flags().BoolVar(&runDataOnly, "data-only", false, "Skip the Sqitch helper schema and QGIS styles")
	runCommand.Flags().BoolVar(&runSkipDump, "skip-dump", false, "Skip the final pg_dump export")
	runCommand.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging")
	runCommand.Flags().StringVar(&runBasePath, "basepath", "", "Project base path (default /app)")

	// External database mode; overrides the built-in connection strings.
	runCommand.Flags().StringVar(&runConnStr, "conn-str", "", "PostgreSQL connection URL (optional, defaults to the POSTGRES_USER/POSTGRES_PASSWORD contract)")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	// Step 1: Load config file if provided
	var cfg config.Config
	if runConfigPath != "" {
		loadedCfg, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loadedCfg
	}

	// Step 2: Apply CLI overrides (command-line args take priority)
	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("region") {
		cfg.Region = runRegion
	}
	if cmd.Flags().Changed("subregion") {
		cfg.Subregion = runSubregion
	}
	if cmd.Flags().Changed("pgosm-date") {
		cfg.PgosmDate = runPgosmDate
	}
	if cmd.Flags().Changed("input-file") {
		cfg.InputFile = runInputFile
	}
	if cmd.Flags().Changed("layerset") {
		cfg.Layerset = runLayerset
	}
	if cmd.Flags().Changed("layerset-path") {
		cfg.LayersetPath = runLayersetPath
	}
	if cmd.Flags().Changed("ram") {
		cfg.RAM = runRAM
	}
	if cmd.Flags().Changed("srid") {
		cfg.SRID = runSRID
	}
	if cmd.Flags().Changed("language") {
		cfg.Language = runLanguage
	}
	if cmd.Flags().Changed("schema-name") {
		cfg.SchemaName = runSchemaName
	}
	if cmd.Flags().Changed("skip-nested") {
		cfg.SkipNested = runSkipNested
	}
	if cmd.Flags().Changed("data-only") {
		cfg.DataOnly = runDataOnly
	}
	if cmd.Flags().Changed("skip-dump") {
		cfg.SkipDump = runSkipDump
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = runDebug
	}
	if cmd.Flags().Changed("basepath") {
		cfg.BasePath = runBasePath
	}
	if cmd.Flags().Changed("conn-str") {
		cfg.ConnStr = runConnStr
	}

	// Step 3: PGOSM_* environment fallbacks for values still unset
	applyEnvFallbacks(&cfg)

	// Step 4: Apply defaults for unset values
	defaults := config.Config{
		PgosmDate:  acquire.Today(),
		Layerset:   "default",
		SRID:       config.DefaultSRID,
		SchemaName: config.DefaultSchemaName,
		BasePath:   config.BasePathDefault,
	}
	cfg = cfg.MergeWithDefaults(defaults)

	// Step 5: Validate formats and required fields
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Region == "" && cfg.InputFile == "" {
		return fmt.Errorf("either --region or --input-file must be provided (via flag or config)")
	}
	if cfg.Region != "" && cfg.InputFile != "" {
		return fmt.Errorf("--region and --input-file are mutually exclusive; provide only one")
	}
	if cfg.RAM <= 0 {
		return fmt.Errorf("--ram is required and must be greater than zero")
	}

	// Step 6: Logging to a per-run file under the output directory
	log, logPath, closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	fmt.Fprintf(os.Stdout, "Logging to %s\n\tUse tail -f %s to follow progress\n", logPath, logPath)

	opts := pipeline.Options{
		Region:       cfg.Region,
		Subregion:    cfg.Subregion,
		PgosmDate:    cfg.PgosmDate,
		InputFile:    cfg.InputFile,
		Layerset:     cfg.Layerset,
		LayersetPath: cfg.LayersetPath,
		RAM:          cfg.RAM,
		SRID:         cfg.SRID,
		Language:     cfg.Language,
		SchemaName:   cfg.SchemaName,
		SkipNested:   cfg.SkipNested,
		DataOnly:     cfg.DataOnly,
		SkipDump:     cfg.SkipDump,
		BasePath:     cfg.BasePath,
		ConnStr:      cfg.ConnStr,
	}

	if err := pipeline.Run(ctx, opts, pipeline.Deps{}, log); err != nil {
		log.Error("pipeline failed", "error", err)
		return err
	}
	return nil
}

// applyEnvFallbacks fills values not set by flag or config file from the
// PGOSM_* environment. Flags and config always win.
func applyEnvFallbacks(cfg *config.Config) {
	if cfg.SRID == "" {
		cfg.SRID = os.Getenv("PGOSM_SRID")
	}
	if cfg.PgosmDate == "" {
		cfg.PgosmDate = os.Getenv("PGOSM_DATE")
	}
	if cfg.Language == "" {
		cfg.Language = os.Getenv("PGOSM_LANGUAGE")
	}
	if !cfg.SkipNested {
		cfg.SkipNested = envBool("PGOSM_SKIP_NESTED_POLYGON")
	}
	if !cfg.DataOnly {
		cfg.DataOnly = envBool("PGOSM_DATA_SCHEMA_ONLY")
	}
}

// envBool reads an environment variable as a boolean; unset or unparseable
// values are false.
func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}

// logFilename derives the per-run log name from the region or, for local
// imports, from the input file.
func logFilename(cfg config.Config) string {
	if cfg.InputFile != "" {
		base := filepath.Base(cfg.InputFile)
		return strings.TrimSuffix(base, filepath.Ext(base)) + ".log"
	}
	return naming.LogFilename(cfg.Region, cfg.Subregion)
}

// setupLogging opens the run's log file and returns a logger writing to it.
// The output directory is created if missing so logging works before the
// pipeline builds its paths.
func setupLogging(cfg config.Config) (*slog.Logger, string, func(), error) {
	outPath := filepath.Join(cfg.BasePath, "output")
	if err := os.MkdirAll(outPath, 0o755); err != nil {
		return nil, "", nil, fmt.Errorf("failed to create output directory %s: %w", outPath, err)
	}

	logPath := filepath.Join(outPath, logFilename(cfg))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return log, logPath, func() { _ = f.Close() }, nil
}
