// Command migrate manages the users schema outside of server startup.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	cfg "github.com/example/cookieauth/internal/config"
	"github.com/example/cookieauth/internal/logging"
	"github.com/example/cookieauth/internal/migrations"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		logging.LogError(logging.Setup("cookieauth-migrate", "text", "info", os.Stderr), "migrate failed", err)
		os.Exit(1)
	}
}

// NewRootCmd creates the migrate command tree. The target database comes from
// DB_ADAPTER and its connection settings.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the cookieauth database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newUpCmd(), newDownCmd(), newVersionCmd(), newForceCmd())
	return cmd
}

func newUpCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *migrations.Migrator) error {
				var err error
				if steps > 0 {
					err = m.Steps(steps)
				} else {
					err = m.Up()
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 applies all)")
	return cmd
}

func newDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *migrations.Migrator) error {
				var err error
				if steps > 0 {
					err = m.Steps(-steps)
				} else {
					err = m.Down()
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back (0 rolls back all)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *migrations.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if dirty {
					return oops.Code("MIGRATION_DIRTY").With("version", v).
						Errorf("database is dirty at version %d; run force", v)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", v)
				return nil
			})
		},
	}
}

func newForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(func(m *migrations.Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "forced version %d\n", version)
				return nil
			})
		},
	}
}

func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer: %q", s)
	}
	return v, nil
}

func withMigrator(fn func(*migrations.Migrator) error) error {
	c, err := cfg.New()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	dialect, dsn, err := migrationTarget(c)
	if err != nil {
		return err
	}

	m, err := migrations.NewMigrator(dialect, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

// migrationTarget maps the configured adapter to a migration dialect and DSN.
func migrationTarget(c *cfg.Config) (string, string, error) {
	switch c.DBAdapter {
	case "postgres":
		return migrations.Postgres, c.PostgresDSN, nil
	case "sqlite":
		return migrations.SQLite, c.SQLiteFile + "?_pragma=busy_timeout(5000)", nil
	default:
		return "", "", oops.Code("CONFIG_INVALID").
			With("adapter", c.DBAdapter).
			Errorf("migrations need DB_ADAPTER=postgres or sqlite, got %q", c.DBAdapter)
	}
}
