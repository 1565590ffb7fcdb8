// Package naming derives the canonical filenames and URLs for a
// (region, subregion, date) triple. All functions are pure; equal inputs
// always produce byte-identical output, which the acquisition cache and log
// correlation rely on.
package naming

import (
	"fmt"
	"strings"
)

// BaseURL is the Geofabrik download mirror serving regional extracts.
const BaseURL = "https://download.geofabrik.de"

// LatestMarker is the filename marker replaced by the run date when a PBF
// file is archived.
const LatestMarker = "latest"

// RegionFilename returns the "-latest" PBF filename for a region, or for the
// subregion when one is given.
func RegionFilename(region, subregion string) string {
	if subregion == "" {
		return fmt.Sprintf("%s-latest.osm.pbf", region)
	}
	return fmt.Sprintf("%s-latest.osm.pbf", subregion)
}

// PBFURL returns the mirror URL for the region / subregion extract. Region
// names are slash-separated hierarchies on the mirror ("north-america/us"),
// so the subregion path nests under the region.
func PBFURL(region, subregion string) string {
	if subregion == "" {
		return fmt.Sprintf("%s/%s-latest.osm.pbf", BaseURL, region)
	}
	return fmt.Sprintf("%s/%s/%s-latest.osm.pbf", BaseURL, region, subregion)
}

// ExportFilename returns the .sql filename used for the pg_dump output.
// Slashes in region/subregion come from the mirror hierarchy and are not
// legal in a filename, so they become hyphens.
func ExportFilename(region, subregion, layerset, date string) string {
	region = strings.ReplaceAll(region, "/", "-")
	subregion = strings.ReplaceAll(subregion, "/", "-")
	if subregion == "" {
		return fmt.Sprintf("pgosm-flex-%s-%s-%s.sql", region, layerset, date)
	}
	return fmt.Sprintf("pgosm-flex-%s-%s-%s-%s.sql", region, subregion, layerset, date)
}

// LogFilename returns the log filename for a region / subregion run.
func LogFilename(region, subregion string) string {
	region = strings.ReplaceAll(region, "/", "-")
	if subregion == "" {
		return fmt.Sprintf("%s.log", region)
	}
	return fmt.Sprintf("%s-%s.log", region, subregion)
}
