package historycmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/loom/cmd/loom/sqlitepath"
	"github.com/papercomputeco/loom/pkg/history"
	"github.com/papercomputeco/loom/pkg/storage/sqlite"
)

const historyLongDesc string = `Show conversation threads from the local database.

Without arguments, lists all threads. With a thread ID, prints that
thread's messages in order.

Examples:
  loom history
  loom history 5f0c2e9a-1a77-4a21-b2a4-1d1a1c2b3d4e
  loom history --sqlite /tmp/other.db`

const historyShortDesc string = "Show local threads and their messages"

type historyCommander struct {
	sqlitePath string
}

func NewHistoryCmd() *cobra.Command {
	cmder := &historyCommander{}

	cmd := &cobra.Command{
		Use:   "history [thread-id]",
		Short: historyShortDesc,
		Long:  historyLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threadID := ""
			if len(args) == 1 {
				threadID = args[0]
			}
			return cmder.run(cmd.Context(), cmd, threadID)
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to local SQLite database")

	return cmd
}

func (c *historyCommander) run(ctx context.Context, cmd *cobra.Command, threadID string) error {
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

	if threadID == "" {
		return c.listThreads(ctx, cmd, mgr)
	}
	return c.showThread(ctx, cmd, mgr, threadID)
}

func (c *historyCommander) listThreads(ctx context.Context, cmd *cobra.Command, mgr *history.Manager) error {
	threads, err := mgr.Threads(ctx)
	if err != nil {
		return fmt.Errorf("could not list threads: %w", err)
	}

	if len(threads) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No threads.")
		return nil
	}

	for _, t := range threads {
		topic := t.Topic
		if topic == "" {
			topic = "(no topic)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n",
			t.ID, t.UpdatedAt.Format("2006-01-02 15:04"), topic)
	}
	return nil
}

func (c *historyCommander) showThread(ctx context.Context, cmd *cobra.Command, mgr *history.Manager, threadID string) error {
	msgs, err := mgr.History(ctx, threadID)
	if err != nil {
		return fmt.Errorf("could not load thread %s: %w", threadID, err)
	}

	for _, m := range msgs {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", m.Role, m.Text())
	}
	return nil
}
