// Package tuner computes the osm2pgsql invocation for an import, sized from
// the server RAM and the PBF file size. It mirrors the osm2pgsql-tuner
// sizing rule: the node cache wants roughly 2.5x the PBF size in memory, and
// when that does not fit in two thirds of the available RAM the import falls
// back to disk-backed flat nodes.
package tuner

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/jacopofar/pgosm-flex/internal/invoke"
)

const (
	// cacheFactor is the in-memory node cache size relative to the PBF size.
	cacheFactor = 2.5
	// usableRAMShare is the share of system RAM the cache may claim.
	usableRAMShare = 2.0 / 3.0
)

// Input parameterizes one recommendation.
type Input struct {
	RAM     float64 // Server RAM in GB
	PBFPath string  // PBF filename or absolute path
	OutPath string  // Output directory, resolves relative PBF paths
	ConnStr string  // Target database connection string
}

// Recommend returns the osm2pgsql command for the import. The command embeds
// the connection string; callers must not log it verbatim.
func Recommend(in Input, log *slog.Logger) (invoke.Command, error) {
	pbfFile := in.PBFPath
	if !filepath.IsAbs(pbfFile) {
		pbfFile = filepath.Join(in.OutPath, pbfFile)
	}

	info, err := os.Stat(pbfFile)
	if err != nil {
		return invoke.Command{}, fmt.Errorf("failed to stat PBF file %s: %w", pbfFile, err)
	}
	pbfGB := float64(info.Size()) / 1024 / 1024 / 1024
	log.Info("PBF size (GB)", "size", pbfGB)

	args := []string{
		"-d", in.ConnStr,
		"--output=flex",
		"--style=./run.lua",
		"--slim",
		"--drop",
	}

	cacheMB := int(math.Ceil(pbfGB * cacheFactor * 1024))
	if float64(cacheMB)/1024 <= in.RAM*usableRAMShare {
		args = append(args, fmt.Sprintf("--cache=%d", cacheMB))
	} else {
		// Cache does not fit in RAM: spill node locations to disk.
		log.Info("PBF too large for in-memory cache, using flat nodes")
		args = append(args,
			"--cache=0",
			fmt.Sprintf("--flat-nodes=%s", filepath.Join(in.OutPath, "flat-nodes.bin")))
	}

	args = append(args, pbfFile)

	return invoke.Command{Name: "osm2pgsql", Args: args}, nil
}
