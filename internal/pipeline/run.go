// Package pipeline provides the high-level orchestration for a PgOSM Flex
// run: acquire data, wait for Postgres, prepare the database, run osm2pgsql,
// post-process and export.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jacopofar/pgosm-flex/internal/acquire"
	"github.com/jacopofar/pgosm-flex/internal/config"
	"github.com/jacopofar/pgosm-flex/internal/db"
	"github.com/jacopofar/pgosm-flex/internal/invoke"
	"github.com/jacopofar/pgosm-flex/internal/layerset"
	"github.com/jacopofar/pgosm-flex/internal/naming"
	"github.com/jacopofar/pgosm-flex/internal/tuner"
)

// Stage names for progress events.
const (
	StageConfigure   = "configure"
	StageAcquire     = "acquire"
	StageAwait       = "await_dependency"
	StagePrepare     = "schema_prepare"
	StageImport      = "import"
	StagePostProcess = "post_process"
	StageExport      = "export"
)

// ProgressEvent represents a progress update during pipeline execution.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs.
type ProgressCallback func(event ProgressEvent)

// ConfigurationError reports an invalid run configuration; no stage runs.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Options holds configuration for running the pipeline. Built once from
// external input, never mutated.
type Options struct {
	Region       string
	Subregion    string
	PgosmDate    string
	InputFile    string // Pre-supplied PBF, skips acquisition entirely
	Layerset     string
	LayersetPath string
	RAM          float64
	SRID         string
	Language     string
	SchemaName   string
	SkipNested   bool
	DataOnly     bool
	SkipDump     bool
	BasePath     string
	ConnStr      string
	OnProgress   ProgressCallback
}

// Acquirer obtains a verified PBF and cleans up the working copies.
type Acquirer interface {
	PrepareData(ctx context.Context, region, subregion, date string) (string, error)
	RemoveLatest(region, subregion string) error
}

// Database covers the SQL-level collaborators the pipeline sequences.
type Database interface {
	PgosmConn() string
	ReadyCheck() db.ReadyCheck
	Prepare(ctx context.Context, dataOnly bool, paths *config.Paths) error
	AfterImport(ctx context.Context, paths *config.Paths, env []string) error
	NestedPolygons(ctx context.Context) error
	RenameSchema(ctx context.Context, schemaName string) error
	Dump(ctx context.Context, exportPath string, dataOnly bool, schemaName string) error
	Close()
}

// Deps are the pipeline's collaborators. Zero-value fields get production
// defaults; tests substitute fakes.
type Deps struct {
	Runner       invoke.Runner
	Acquirer     Acquirer
	Database     Database
	Recommend    func(in tuner.Input, log *slog.Logger) (invoke.Command, error)
	PollOptions  db.PollOptions
	PlaceEnabled func(layersetPath, layerset, flexPath string, log *slog.Logger) bool
}

// Run orchestrates the full pipeline. Stages run strictly in order; the
// first unrecoverable condition aborts the run. Nothing is rolled back on
// failure, partial state is left for operator inspection.
func Run(ctx context.Context, opts Options, deps Deps, log *slog.Logger) error {
	runID := uuid.New()
	log = log.With("run_id", runID)
	log.Info("PgOSM Flex starting")

	emit := func(stage, message string) {
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressEvent{Stage: stage, Message: message, RunID: runID.String()})
		}
	}

	// Stage 1: Configure.
	if opts.Region == "" && opts.InputFile == "" {
		return &ConfigurationError{Message: "either region or input file must be provided"}
	}
	paths, err := config.NewPaths(opts.BasePath)
	if err != nil {
		return err
	}

	if deps.Runner == nil {
		deps.Runner = invoke.NewExecRunner(log)
	}
	if deps.Database == nil {
		deps.Database = db.NewAdmin(opts.ConnStr, deps.Runner, log)
	}
	defer deps.Database.Close()
	if deps.Acquirer == nil {
		deps.Acquirer = acquire.NewManager(paths.OutPath, deps.Runner, log)
	}
	if deps.Recommend == nil {
		deps.Recommend = tuner.Recommend
	}
	if deps.PollOptions == (db.PollOptions{}) {
		deps.PollOptions = db.DefaultPollOptions()
	}
	if deps.PlaceEnabled == nil {
		deps.PlaceEnabled = layerset.IncludesPlaces
	}
	emit(StageConfigure, "configuration resolved")

	// Stage 2: Acquire data and compute the import command.
	pbfFile := opts.InputFile
	if opts.InputFile == "" {
		log.Info("preparing data", "region", opts.Region, "subregion", opts.Subregion, "date", opts.PgosmDate)
		pbfFile, err = deps.Acquirer.PrepareData(ctx, opts.Region, opts.Subregion, opts.PgosmDate)
		if err != nil {
			return err
		}
	} else {
		log.Info("using pre-supplied input file", "path", opts.InputFile)
	}

	importCmd, err := deps.Recommend(tuner.Input{
		RAM:     opts.RAM,
		PBFPath: pbfFile,
		OutPath: paths.OutPath,
		ConnStr: deps.Database.PgosmConn(),
	}, log)
	if err != nil {
		return err
	}
	emit(StageAcquire, fmt.Sprintf("data ready: %s", filepath.Base(pbfFile)))

	// Stage 3: Wait for Postgres.
	if err := db.WaitForReady(ctx, deps.Database.ReadyCheck(), deps.PollOptions, log); err != nil {
		return err
	}
	emit(StageAwait, "database ready")

	// Stage 4: Prepare the database.
	if err := deps.Database.Prepare(ctx, opts.DataOnly, paths); err != nil {
		return err
	}
	emit(StagePrepare, "database prepared")

	// Stage 5: Run osm2pgsql. The command embeds the connection string, so
	// only its output is logged.
	log.Info("running osm2pgsql")
	importCmd.Dir = paths.FlexPath
	importCmd.Env = ImportEnv(opts, deps.Database.PgosmConn())
	out, err := deps.Runner.Run(ctx, importCmd)
	if err != nil {
		return err
	}
	log.Info("osm2pgsql output", "output", out)
	emit(StageImport, "import complete")

	// Stage 6: Decide on nested polygons. Without the place layer the
	// calculation has nothing to work on; forcing the skip is a derived
	// decision, not a user error.
	skipNested := opts.SkipNested
	if !skipNested && !deps.PlaceEnabled(opts.LayersetPath, opts.Layerset, paths.FlexPath, log) {
		log.Info("place layer not imported, skipping nested polygons")
		skipNested = true
	}

	// Stage 7: Post-processing.
	if err := deps.Database.AfterImport(ctx, paths, importCmd.Env); err != nil {
		return err
	}
	if skipNested {
		log.Info("skipping calculating nested polygons")
	} else {
		log.Info("calculating nested polygons")
		if err := deps.Database.NestedPolygons(ctx); err != nil {
			return err
		}
	}
	emit(StagePostProcess, "post-processing complete")

	// Stage 8: Cleanup and export.
	var exportFilename string
	if opts.InputFile == "" {
		if err := deps.Acquirer.RemoveLatest(opts.Region, opts.Subregion); err != nil {
			return err
		}
		exportFilename = naming.ExportFilename(opts.Region, opts.Subregion, opts.Layerset, opts.PgosmDate)
	} else {
		exportFilename = strings.TrimSuffix(opts.InputFile, filepath.Ext(opts.InputFile)) + ".sql"
	}

	if opts.SchemaName != config.DefaultSchemaName {
		if err := deps.Database.RenameSchema(ctx, opts.SchemaName); err != nil {
			return err
		}
	}

	if opts.SkipDump {
		log.Info("skipping pg_dump")
	} else {
		exportPath := exportFilename
		if !filepath.IsAbs(exportPath) {
			exportPath = filepath.Join(paths.OutPath, exportFilename)
		}
		if err := deps.Database.Dump(ctx, exportPath, opts.DataOnly, opts.SchemaName); err != nil {
			return err
		}
	}
	emit(StageExport, "export complete")

	log.Info("PgOSM Flex complete")
	return nil
}

// ImportEnv builds the PGOSM_* environment for the osm2pgsql and
// post-processing subprocesses. This is the only place run configuration
// crosses a process boundary via environment variables.
func ImportEnv(opts Options, connStr string) []string {
	region := opts.Region
	if opts.Subregion != "" {
		region = fmt.Sprintf("%s-%s", opts.Region, opts.Subregion)
	}

	env := []string{
		fmt.Sprintf("PGOSM_REGION=%s", region),
		fmt.Sprintf("PGOSM_DATE=%s", opts.PgosmDate),
		fmt.Sprintf("PGOSM_LAYERSET=%s", opts.Layerset),
		fmt.Sprintf("PGOSM_CONN=%s", connStr),
	}
	if opts.SRID != config.DefaultSRID {
		env = append(env, fmt.Sprintf("PGOSM_SRID=%s", opts.SRID))
	}
	if opts.Language != "" {
		env = append(env, fmt.Sprintf("PGOSM_LANGUAGE=%s", opts.Language))
	}
	if opts.LayersetPath != "" {
		env = append(env, fmt.Sprintf("PGOSM_LAYERSET_PATH=%s", opts.LayersetPath))
	}
	return env
}
