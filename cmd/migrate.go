package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tms-tools/teamcal/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var (
		dbDriver string
		dbDSN    string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		Long: `Apply the teamcal database schema to the configured database.

The serve command migrates on startup by default; this command exists for
deployments that run migrations as a separate step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			if !cmd.Flags().Changed("db-driver") {
				if driver := os.Getenv("TEAMCAL_DB_DRIVER"); driver != "" {
					dbDriver = driver
				}
			}
			if !cmd.Flags().Changed("db-dsn") {
				if dsn := os.Getenv("TEAMCAL_DB_DSN"); dsn != "" {
					dbDSN = dsn
				}
			}

			db, err := store.Open(dbDriver, dbDSN)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			if err := store.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}

			fmt.Println("database schema is up to date")
			return nil
		},
	}

	cmd.Flags().StringVar(&dbDriver, "db-driver", "sqlite3", "Database driver: postgres or sqlite3. Can also use TEAMCAL_DB_DRIVER env var.")
	cmd.Flags().StringVar(&dbDSN, "db-dsn", "teamcal.db", "Database DSN. Can also use TEAMCAL_DB_DSN env var.")

	return cmd
}
