package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jacopofar/pgosm-flex/internal/config"
	"github.com/jacopofar/pgosm-flex/internal/invoke"
)

// duplicateObjectCode is the Postgres error for CREATE EXTENSION on an
// already-installed extension.
const duplicateObjectCode = "42710"

// Admin performs the SQL-level preparation and export work for one run.
type Admin struct {
	// adminConn targets the maintenance database for drop/create.
	adminConn string
	// pgosmConn targets the import database.
	pgosmConn string
	runner    invoke.Runner
	log       *slog.Logger

	// pool connects to the import database, opened on first use. Prepare
	// recreates that database, so nothing may open the pool before Prepare
	// has run.
	pool *DB
}

// NewAdmin builds an Admin. When connStr is non-empty it overrides both
// connection strings (external database mode); otherwise they are built from
// the Postgres environment contract.
func NewAdmin(connStr string, runner invoke.Runner, log *slog.Logger) *Admin {
	if connStr != "" {
		return &Admin{adminConn: connStr, pgosmConn: connStr, runner: runner, log: log}
	}
	return &Admin{
		adminConn: ConnectionString("postgres"),
		pgosmConn: ConnectionString(PgosmDBName),
		runner:    runner,
		log:       log,
	}
}

// PgosmConn returns the connection string for the import database.
func (a *Admin) PgosmConn() string {
	return a.pgosmConn
}

// pgosm returns the pool to the import database, opening it on first use.
func (a *Admin) pgosm(ctx context.Context) (*DB, error) {
	if a.pool == nil {
		pool, err := Connect(ctx, a.pgosmConn)
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}
	return a.pool, nil
}

// Close releases the import database pool.
func (a *Admin) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// ReadyCheck returns the readiness probe for the target service.
func (a *Admin) ReadyCheck() ReadyCheck {
	return PingCheck(a.adminConn)
}

// Prepare readies the database for an import: recreates the pgosm database
// with the osm schema and PostGIS, then (unless dataOnly) deploys the pgosm
// helper schema via Sqitch and loads the QGIS style data. Sqitch and style
// failures are logged but do not abort the run; the import proceeds without
// the extras.
func (a *Admin) Prepare(ctx context.Context, dataOnly bool, paths *config.Paths) error {
	if err := a.versionCheck(ctx); err != nil {
		return err
	}
	if err := a.recreateDatabase(ctx); err != nil {
		return err
	}
	if err := a.createSchema(ctx); err != nil {
		return err
	}

	if dataOnly {
		a.log.Info("data only mode enabled, no Sqitch or QGIS styles")
		return nil
	}

	a.log.Info("loading extras via Sqitch")
	if err := a.sqitchDeploy(ctx, paths); err != nil {
		a.log.Error("loading Sqitch schema failed, pgosm schema will not be included in output", "error", err)
		return nil
	}
	if err := a.loadQGISStyles(ctx, paths); err != nil {
		a.log.Error("loading QGIS styles failed", "error", err)
	}
	return nil
}

func (a *Admin) versionCheck(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, a.adminConn)
	if err != nil {
		return fmt.Errorf("database connection error: %w", err)
	}
	defer conn.Close(ctx)

	var version string
	if err := conn.QueryRow(ctx, "SHOW server_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to check server version: %w", err)
	}
	a.log.Info("Postgres version", "version", version)
	return nil
}

func (a *Admin) recreateDatabase(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, a.adminConn)
	if err != nil {
		return fmt.Errorf("database connection error: %w", err)
	}
	defer conn.Close(ctx)

	// DROP/CREATE DATABASE cannot run inside a transaction; single Exec
	// calls run in autocommit.
	if _, err := conn.Exec(ctx, "DROP DATABASE IF EXISTS pgosm;"); err != nil {
		return fmt.Errorf("failed to drop pgosm database: %w", err)
	}
	a.log.Info("removed pgosm database")

	if _, err := conn.Exec(ctx, "CREATE DATABASE pgosm;"); err != nil {
		return fmt.Errorf("failed to create pgosm database: %w", err)
	}
	a.log.Info("created pgosm database")
	return nil
}

func (a *Admin) createSchema(ctx context.Context) error {
	pool, err := a.pgosm(ctx)
	if err != nil {
		return err
	}

	if err := pool.Exec(ctx, "CREATE SCHEMA osm;"); err != nil {
		return fmt.Errorf("failed to create osm schema: %w", err)
	}
	a.log.Debug("created osm schema")

	if err := pool.Exec(ctx, "CREATE EXTENSION postgis;"); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == duplicateObjectCode {
			a.log.Info("PostGIS already installed, continuing")
			return nil
		}
		return fmt.Errorf("failed to install PostGIS extension: %w", err)
	}
	a.log.Debug("installed PostGIS extension")
	return nil
}

// sqitchDeploy deploys the pgosm helper schema and loads the US roads helper
// data, both from the db path.
func (a *Admin) sqitchDeploy(ctx context.Context, paths *config.Paths) error {
	a.log.Info("deploying schema via Sqitch")
	if _, err := a.runner.Run(ctx, invoke.Command{
		Name: "sqitch",
		Args: []string{"deploy", SqitchConnectionString(PgosmDBName)},
		Dir:  paths.DBPath,
	}); err != nil {
		return err
	}

	a.log.Info("loading US roads helper data")
	if _, err := a.runner.Run(ctx, invoke.Command{
		Name: "psql",
		Args: []string{"-d", a.pgosmConn, "-f", "data/roads-us.sql"},
		Dir:  paths.DBPath,
	}); err != nil {
		return err
	}

	a.log.Info("Sqitch deployment complete")
	return nil
}

// loadQGISStyles creates and populates the QGIS layer style table. The
// create/load statements run through the driver; the bulk style data was
// produced by pg_dump and reloads via psql.
func (a *Admin) loadQGISStyles(ctx context.Context, paths *config.Paths) error {
	a.log.Info("loading QGIS styles")

	createSQL, err := os.ReadFile(filepath.Join(paths.DBPath, "qgis-style", "create_layer_styles.sql"))
	if err != nil {
		return fmt.Errorf("failed to read QGIS style create script: %w", err)
	}
	loadSQL, err := os.ReadFile(filepath.Join(paths.DBPath, "qgis-style", "_load_layer_styles.sql"))
	if err != nil {
		return fmt.Errorf("failed to read QGIS style load script: %w", err)
	}

	pool, err := a.pgosm(ctx)
	if err != nil {
		return err
	}

	if err := pool.Exec(ctx, string(createSQL)); err != nil {
		return fmt.Errorf("failed to create QGIS style table: %w", err)
	}

	if _, err := a.runner.Run(ctx, invoke.Command{
		Name: "psql",
		Args: []string{"-d", a.pgosmConn, "-f", "qgis-style/layer_styles.sql"},
		Dir:  paths.DBPath,
	}); err != nil {
		return err
	}

	if err := pool.Exec(ctx, string(loadSQL)); err != nil {
		return fmt.Errorf("failed to populate QGIS style table: %w", err)
	}
	if err := pool.Exec(ctx, "DELETE FROM public.layer_styles_staging;"); err != nil {
		return fmt.Errorf("failed to clean QGIS style staging table: %w", err)
	}

	a.log.Info("QGIS style table populated")
	return nil
}

// AfterImport runs the post-processing SQL via the flex-config Lua runner.
// The layerset selection travels in env, which must include the PGOSM_*
// variables.
func (a *Admin) AfterImport(ctx context.Context, paths *config.Paths, env []string) error {
	a.log.Info("running post-processing")

	out, err := a.runner.Run(ctx, invoke.Command{
		Name: "lua",
		Args: []string{"run-sql.lua"},
		Dir:  paths.FlexPath,
		Env:  env,
	})
	if err != nil {
		return err
	}
	a.log.Info("post-processing output", "output", out)
	return nil
}

// NestedPolygons calculates nested admin polygons. This can take a long time
// on large regions.
func (a *Admin) NestedPolygons(ctx context.Context) error {
	a.log.Info("building nested polygons... (this can take a while)")

	pool, err := a.pgosm(ctx)
	if err != nil {
		return err
	}

	if err := pool.Exec(ctx, "CALL osm.build_nested_admin_polygons();"); err != nil {
		return fmt.Errorf("failed to build nested polygons: %w", err)
	}
	return nil
}

// RenameSchema renames the default osm schema to schemaName.
func (a *Admin) RenameSchema(ctx context.Context, schemaName string) error {
	a.log.Info("renaming schema", "from", "osm", "to", schemaName)

	pool, err := a.pgosm(ctx)
	if err != nil {
		return err
	}

	if err := pool.Exec(ctx, fmt.Sprintf("ALTER SCHEMA osm RENAME TO %s;", pgx.Identifier{schemaName}.Sanitize())); err != nil {
		return fmt.Errorf("failed to rename schema: %w", err)
	}
	return nil
}

// Dump exports the processed data with pg_dump so it can be loaded into
// other PostGIS databases. Unless dataOnly is set, the pgosm and public
// schemas ride along with the renamed osm schema.
func (a *Admin) Dump(ctx context.Context, exportPath string, dataOnly bool, schemaName string) error {
	args := []string{"-d", a.pgosmConn, fmt.Sprintf("--schema=%s", schemaName)}
	if dataOnly {
		a.log.Info("running pg_dump (schema only)", "schema", schemaName)
	} else {
		a.log.Info("running pg_dump (schema plus extras)", "schema", schemaName)
		args = append(args, "--schema=pgosm", "--schema=public")
	}
	args = append(args, "-f", exportPath)

	if _, err := a.runner.Run(ctx, invoke.Command{Name: "pg_dump", Args: args}); err != nil {
		return err
	}
	a.log.Info("pg_dump complete", "path", exportPath)

	return fixDumpPublicSchema(exportPath)
}

// fixDumpPublicSchema rewrites `CREATE SCHEMA public;` in a dump to the IF
// NOT EXISTS form. Dumping with --schema=public emits the bare statement,
// which nearly always breaks in the target database.
func fixDumpPublicSchema(exportPath string) error {
	data, err := os.ReadFile(exportPath)
	if err != nil {
		return fmt.Errorf("failed to read dump %s: %w", exportPath, err)
	}

	fixed := strings.Replace(string(data),
		"CREATE SCHEMA public;",
		"CREATE SCHEMA IF NOT EXISTS public;", 1)
	if fixed == string(data) {
		return nil
	}

	if err := os.WriteFile(exportPath, []byte(fixed), 0o644); err != nil {
		return fmt.Errorf("failed to rewrite dump %s: %w", exportPath, err)
	}
	return nil
}
