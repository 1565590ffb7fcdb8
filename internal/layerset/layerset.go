// Package layerset reads PgOSM Flex layerset definitions. The pipeline only
// needs one fact from them: whether the place layer is included, since
// nested admin polygons cannot be computed without it.
package layerset

import (
	"log/slog"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// IncludesPlaces reports whether the named layerset imports the place layer.
// The definition lives in {layersetPath}/{layerset}.ini, falling back to the
// layerset directory under flexPath when no custom path is given. A missing
// or unreadable file, a missing place key, or place=false all report false:
// without the place layer nested polygons must be skipped, and that is a
// derived decision, not an error.
func IncludesPlaces(layersetPath, layerset, flexPath string, log *slog.Logger) bool {
	if layersetPath == "" {
		layersetPath = filepath.Join(flexPath, "layerset")
		log.Info("using default layerset path", "path", layersetPath)
	}

	iniFile := filepath.Join(layersetPath, layerset+".ini")
	cfg, err := ini.Load(iniFile)
	if err != nil {
		log.Debug("layerset definition not readable, place layer assumed absent",
			"path", iniFile, "error", err)
		return false
	}

	key, err := cfg.Section("layerset").GetKey("place")
	if err != nil {
		log.Debug("place layer not defined in layerset")
		return false
	}

	place, err := key.Bool()
	if err != nil {
		log.Debug("place key is not a boolean, assuming absent", "value", key.String())
		return false
	}
	if place {
		log.Debug("place layer is enabled")
		return true
	}
	log.Debug("place layer set to false")
	return false
}
