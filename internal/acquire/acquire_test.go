package acquire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacopofar/pgosm-flex/internal/invoke"
)

const testToday = "2026-08-27"

// fakeRunner records every command. For wget it writes the -O target so the
// manager sees a downloaded file; md5sum fails when failChecksum is set.
type fakeRunner struct {
	commands     []invoke.Command
	failChecksum bool
	failDownload bool
}

func (f *fakeRunner) Run(_ context.Context, cmd invoke.Command) (string, error) {
	f.commands = append(f.commands, cmd)

	switch cmd.Name {
	case "wget":
		if f.failDownload {
			return "", &invoke.CommandError{Cmd: cmd.String(), Output: "404 Not Found", Cause: errors.New("exit status 8")}
		}
		// wget <url> -O <dest> --quiet
		dest := cmd.Args[2]
		if err := os.WriteFile(dest, []byte("data for "+cmd.Args[0]), 0644); err != nil {
			return "", err
		}
		return "", nil
	case "md5sum":
		if f.failChecksum {
			return "checksum FAILED", &invoke.CommandError{Cmd: cmd.String(), Output: "checksum FAILED", Cause: errors.New("exit status 1")}
		}
		return "OK", nil
	}
	return "", nil
}

func (f *fakeRunner) downloads() int {
	n := 0
	for _, c := range f.commands {
		if c.Name == "wget" {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T) (*Manager, *fakeRunner, string) {
	t.Helper()
	outPath := t.TempDir()
	runner := &fakeRunner{}
	m := NewManager(outPath, runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.today = func() string { return testToday }
	return m, runner, outPath
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
}

func TestPrepareData_TodayDownloadsAndArchives(t *testing.T) {
	m, runner, outPath := newTestManager(t)

	pbf, err := m.PrepareData(context.Background(), "north-america/us", "district-of-columbia", testToday)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outPath, "district-of-columbia-latest.osm.pbf"), pbf)

	// One download each for PBF and MD5.
	assert.Equal(t, 2, runner.downloads())
	assert.Equal(t, "https://download.geofabrik.de/north-america/us/district-of-columbia-latest.osm.pbf",
		runner.commands[0].Args[0])
	assert.Equal(t, "https://download.geofabrik.de/north-america/us/district-of-columbia-latest.osm.pbf.md5",
		runner.commands[1].Args[0])

	// Dated archive copies exist.
	assert.FileExists(t, filepath.Join(outPath, "district-of-columbia-2026-08-27.osm.pbf"))
	assert.FileExists(t, filepath.Join(outPath, "district-of-columbia-2026-08-27.osm.pbf.md5"))

	// Checksum ran in the output directory.
	last := runner.commands[len(runner.commands)-1]
	assert.Equal(t, "md5sum", last.Name)
	assert.Equal(t, outPath, last.Dir)
}

func TestPrepareData_SecondRunUsesCache(t *testing.T) {
	m, runner, _ := newTestManager(t)

	_, err := m.PrepareData(context.Background(), "north-america/us", "district-of-columbia", testToday)
	require.NoError(t, err)
	first := runner.downloads()

	_, err = m.PrepareData(context.Background(), "north-america/us", "district-of-columbia", testToday)
	require.NoError(t, err)

	assert.Equal(t, first, runner.downloads(), "second run must not re-download")
}

func TestPrepareData_ArchiveIsWriteOnce(t *testing.T) {
	m, _, outPath := newTestManager(t)

	dated := filepath.Join(outPath, "district-of-columbia-2026-08-27.osm.pbf")
	require.NoError(t, os.WriteFile(dated, []byte("archived snapshot"), 0644))

	// Only the dated PBF exists, so today still downloads, but the dated
	// file must survive untouched.
	_, err := m.PrepareData(context.Background(), "north-america/us", "district-of-columbia", testToday)
	require.NoError(t, err)

	content, err := os.ReadFile(dated)
	require.NoError(t, err)
	assert.Equal(t, "archived snapshot", string(content))
}

func TestPrepareData_RestoreOverwritesLatest(t *testing.T) {
	m, runner, outPath := newTestManager(t)

	writeFiles(t, outPath,
		"district-of-columbia-2026-08-27.osm.pbf",
		"district-of-columbia-2026-08-27.osm.pbf.md5")
	require.NoError(t, os.WriteFile(
		filepath.Join(outPath, "district-of-columbia-latest.osm.pbf"), []byte("stale"), 0644))

	_, err := m.PrepareData(context.Background(), "north-america/us", "district-of-columbia", testToday)
	require.NoError(t, err)

	assert.Zero(t, runner.downloads(), "cache hit must not download")

	content, err := os.ReadFile(filepath.Join(outPath, "district-of-columbia-latest.osm.pbf"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(content), "stale latest copy must be overwritten from the archive")
}

func TestPrepareData_HistoricalMissingPBF(t *testing.T) {
	m, runner, _ := newTestManager(t)

	_, err := m.PrepareData(context.Background(), "north-america/us", "district-of-columbia", "2020-01-01")
	require.Error(t, err)

	var missing *MissingArtifactError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "2020-01-01", missing.Date)
	assert.Zero(t, runner.downloads(), "historical runs must never download")
}

func TestPrepareData_HistoricalMissingMD5(t *testing.T) {
	m, runner, outPath := newTestManager(t)

	writeFiles(t, outPath, "district-of-columbia-2020-01-01.osm.pbf")

	_, err := m.PrepareData(context.Background(), "north-america/us", "district-of-columbia", "2020-01-01")
	require.Error(t, err)

	var missing *MissingArtifactError
	require.True(t, errors.As(err, &missing))
	assert.Zero(t, runner.downloads())
}

func TestPrepareData_ChecksumMismatch(t *testing.T) {
	m, runner, _ := newTestManager(t)
	runner.failChecksum = true

	_, err := m.PrepareData(context.Background(), "north-america/us", "district-of-columbia", testToday)
	require.Error(t, err)

	var checksum *ChecksumError
	require.True(t, errors.As(err, &checksum))
	assert.Contains(t, checksum.Output, "FAILED")
}

func TestPrepareData_DownloadFailure(t *testing.T) {
	m, runner, _ := newTestManager(t)
	runner.failDownload = true

	_, err := m.PrepareData(context.Background(), "north-america/us", "district-of-columbia", testToday)
	require.Error(t, err)

	var dl *DownloadError
	require.True(t, errors.As(err, &dl))
	assert.Contains(t, dl.URL, "district-of-columbia-latest.osm.pbf")
}

func TestPrepareData_NoSubregion(t *testing.T) {
	m, runner, outPath := newTestManager(t)

	pbf, err := m.PrepareData(context.Background(), "north-america", "", testToday)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outPath, "north-america-latest.osm.pbf"), pbf)
	assert.Equal(t, "https://download.geofabrik.de/north-america-latest.osm.pbf",
		runner.commands[0].Args[0])
}

func TestRemoveLatest(t *testing.T) {
	m, _, outPath := newTestManager(t)

	writeFiles(t, outPath,
		"district-of-columbia-latest.osm.pbf",
		"district-of-columbia-latest.osm.pbf.md5")

	require.NoError(t, m.RemoveLatest("north-america/us", "district-of-columbia"))
	assert.NoFileExists(t, filepath.Join(outPath, "district-of-columbia-latest.osm.pbf"))
	assert.NoFileExists(t, filepath.Join(outPath, "district-of-columbia-latest.osm.pbf.md5"))
}

func TestRemoveLatest_MissingFile(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.Error(t, m.RemoveLatest("north-america/us", "district-of-columbia"))
}
