package tuner

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writePBF(t *testing.T, dir string, size int) string {
	t.Helper()
	path := filepath.Join(dir, "district-of-columbia-latest.osm.pbf")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	return path
}

func TestRecommend_SmallExtractUsesMemoryCache(t *testing.T) {
	dir := t.TempDir()
	writePBF(t, dir, 32*1024*1024) // 32MB, fits easily in 4GB

	cmd, err := Recommend(Input{
		RAM:     4,
		PBFPath: "district-of-columbia-latest.osm.pbf",
		OutPath: dir,
		ConnStr: "postgresql://postgres@localhost/pgosm",
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "osm2pgsql", cmd.Name)
	assert.Contains(t, cmd.Args, "-d")
	assert.Contains(t, cmd.Args, "postgresql://postgres@localhost/pgosm")
	assert.Contains(t, cmd.Args, "--output=flex")
	assert.Contains(t, cmd.Args, "--style=./run.lua")
	assert.Contains(t, cmd.Args, "--slim")
	assert.Contains(t, cmd.Args, "--cache=80") // ceil(32MB * 2.5) = 80MB
	assert.NotContains(t, cmd.Args, "--cache=0")

	// PBF path is resolved against the output directory and comes last.
	assert.Equal(t, filepath.Join(dir, "district-of-columbia-latest.osm.pbf"),
		cmd.Args[len(cmd.Args)-1])
}

func TestRecommend_LargeExtractUsesFlatNodes(t *testing.T) {
	dir := t.TempDir()
	writePBF(t, dir, 512*1024*1024) // 512MB needs ~1.25GB cache, over 2/3 of 1GB

	cmd, err := Recommend(Input{
		RAM:     1,
		PBFPath: "district-of-columbia-latest.osm.pbf",
		OutPath: dir,
		ConnStr: "postgresql://postgres@localhost/pgosm",
	}, testLogger())
	require.NoError(t, err)

	assert.Contains(t, cmd.Args, "--cache=0")
	assert.Contains(t, cmd.Args, "--flat-nodes="+filepath.Join(dir, "flat-nodes.bin"))
}

func TestRecommend_AbsolutePath(t *testing.T) {
	dir := t.TempDir()
	pbf := writePBF(t, dir, 1024)

	cmd, err := Recommend(Input{RAM: 4, PBFPath: pbf, OutPath: "/elsewhere", ConnStr: "x"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, pbf, cmd.Args[len(cmd.Args)-1])
}

func TestRecommend_MissingFile(t *testing.T) {
	_, err := Recommend(Input{
		RAM:     4,
		PBFPath: "missing.osm.pbf",
		OutPath: t.TempDir(),
		ConnStr: "x",
	}, testLogger())
	assert.Error(t, err)
}
