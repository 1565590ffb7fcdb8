package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the working directories for one run, derived once from the
// base path and read-only afterwards.
type Paths struct {
	BasePath string // Project root
	DBPath   string // Sqitch project and helper SQL
	OutPath  string // Logs, downloaded data, exports
	FlexPath string // flex-config Lua scripts and layersets
}

// NewPaths resolves the working directories under basePath and guarantees
// the output directory exists before returning. Repeated calls are no-ops
// when the directory is already present; permission failures propagate.
func NewPaths(basePath string) (*Paths, error) {
	p := &Paths{
		BasePath: basePath,
		DBPath:   filepath.Join(basePath, "db"),
		OutPath:  filepath.Join(basePath, "output"),
		FlexPath: filepath.Join(basePath, "flex-config"),
	}

	if err := os.MkdirAll(p.OutPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", p.OutPath, err)
	}
	return p, nil
}
