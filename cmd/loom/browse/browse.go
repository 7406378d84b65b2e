package browsecmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/loom/cmd/loom/sqlitepath"
	"github.com/papercomputeco/loom/pkg/history"
	"github.com/papercomputeco/loom/pkg/storage/sqlite"

	tea "github.com/charmbracelet/bubbletea"
)

const browseLongDesc string = `Browse local threads in a terminal UI.

Opens the local database and shows every thread; selecting one
displays its message history.

Examples:
  loom browse
  loom browse --sqlite /tmp/other.db`

const browseShortDesc string = "Browse threads in a terminal UI"

type browseCommander struct {
	sqlitePath string
}

func NewBrowseCmd() *cobra.Command {
	cmder := &browseCommander{}

	cmd := &cobra.Command{
		Use:   "browse",
		Short: browseShortDesc,
		Long:  browseLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to local SQLite database")

	return cmd
}

func (c *browseCommander) run(ctx context.Context) error {
	dbPath, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
	if err != nil {
		return fmt.Errorf("could not resolve local database: %w", err)
	}

	driver, err := sqlite.NewDriver(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("could not open local database %s: %w", dbPath, err)
	}
	defer driver.Close()

	mgr := history.NewManager(driver, driver)

	threads, err := mgr.Threads(ctx)
	if err != nil {
		return fmt.Errorf("could not list threads: %w", err)
	}

	m := newModel(mgr, threads)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("browse UI failed: %w", err)
	}

	return nil
}
