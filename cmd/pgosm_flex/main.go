// Package main provides the entry point for the PgOSM Flex pipeline CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pgosm_flex",
	Short: "PgOSM Flex OpenStreetMap data pipeline",
	Long:  "PgOSM Flex loads OpenStreetMap data from Geofabrik extracts into a PostGIS database via osm2pgsql and exports the processed schema with pg_dump.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
